// Package sink appends crawl records to a tab-separated flat file.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/cafe-etl/internal/crawler"
	"github.com/JakeFAU/cafe-etl/internal/record"
)

// FileSink is an append-only TSV file. Every Append writes one complete line
// with a single write call, so an interrupted run leaves only whole lines.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open opens path for appending, creating it and its parent directory if needed.
// Existing content is preserved.
func Open(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	// #nosec G304 -- the output path comes from the operator's config.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &FileSink{path: path, file: f}, nil
}

// Append writes rec as one line.
func (s *FileSink) Append(rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("append to %s: %w", s.path, os.ErrClosed)
	}
	if _, err := s.file.WriteString(rec.Line()); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return nil
}

// Close closes the file. Closing twice is a no-op.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

var unsafeNameChars = strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")

// OutputPath returns the file a run writes to: blog runs use
// blog_<seed>.tsv and every cafe shape uses cafe_<seed>_unprocessed.tsv.
func OutputPath(dir string, shape crawler.Shape, seed string) string {
	seed = unsafeNameChars.Replace(seed)
	if shape == crawler.ShapeBlog {
		return filepath.Join(dir, "blog_"+seed+".tsv")
	}
	return filepath.Join(dir, "cafe_"+seed+"_unprocessed.tsv")
}
