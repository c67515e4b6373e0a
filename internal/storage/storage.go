// Package storage defines the rows and blobs the upload pass and the crawl
// archive persist, plus the helpers shared by their backends.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ArticleRow is one row of an article table. URL is the unique key.
type ArticleRow struct {
	URL      string
	Title    string
	Content  string
	Comments string
}

// ValidateTable rejects names that cannot be interpolated into SQL safely.
func ValidateTable(table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// BlobStore persists an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// TSVContentType is the content type of archived crawl files.
const TSVContentType = "text/tab-separated-values; charset=utf-8"

// ObjectPath returns the archive key of a crawl file:
// <prefix>/<yyyy>/<mm>/<dd>/<runID>/<file name>.
func ObjectPath(prefix, runID string, at time.Time, localPath string) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, at.UTC().Format("2006/01/02"))
	if runID != "" {
		parts = append(parts, runID)
	}
	parts = append(parts, filepath.Base(localPath))
	return path.Join(parts...)
}

// Archive copies the file at localPath to store under objectPath.
func Archive(ctx context.Context, store BlobStore, objectPath, localPath string) (string, error) {
	// #nosec G304 -- the path is the crawl output file this process wrote.
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open archive source: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	uri, err := store.PutObject(ctx, objectPath, TSVContentType, f)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", filepath.Base(localPath), err)
	}
	return uri, nil
}
