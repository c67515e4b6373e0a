// Package upload loads a crawl output file into a relational table,
// ignoring rows whose URL is already present.
package upload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/metrics"
	"github.com/JakeFAU/cafe-etl/internal/record"
	"github.com/JakeFAU/cafe-etl/internal/storage"
)

var (
	// ErrUnknownTable is returned for a table outside Tables.
	ErrUnknownTable = errors.New("unsupported table")
	// ErrMissingFile is returned when the input file does not exist.
	ErrMissingFile = errors.New("input file not found")
)

// Tables lists the tables an upload may target. They share one shape.
var Tables = []string{"articles", "certificate_reviews"}

// maxLineBytes bounds a single line; article bodies with long comment threads
// run far past bufio's default.
const maxLineBytes = 64 << 20

// Row outcomes, used as metric labels.
const (
	outcomeInserted = "inserted"
	outcomeIgnored  = "ignored"
	outcomeSkipped  = "skipped"
)

// Store is the relational sink a Loader writes to.
type Store interface {
	EnsureTable(ctx context.Context, table string) error
	Upsert(ctx context.Context, table string, row storage.ArticleRow) (bool, error)
}

// Result summarizes one load.
type Result struct {
	// Processed counts lines handed to the store, inserted or ignored.
	Processed int
	// Inserted counts lines that created a new row.
	Inserted int
	// Skipped counts lines with too few columns.
	Skipped int
}

// Loader streams crawl files into a Store.
type Loader struct {
	store  Store
	logger *zap.Logger
}

// NewLoader wires a Loader.
func NewLoader(store Store, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, logger: logger.Named("upload")}
}

// Check reports configuration problems with a load: an unknown table or a
// missing input file. Callers run it before opening a database.
func Check(path, table string) error {
	if !slices.Contains(Tables, table) {
		return fmt.Errorf("%w: %q (want one of %v)", ErrUnknownTable, table, Tables)
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMissingFile, path)
	}
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrMissingFile, path)
	}
	return nil
}

// Load upserts every valid line of path into table. Configuration problems
// (see Check) are reported before the store is touched. A store failure
// aborts the load; the result then covers the lines handled so far.
func (l *Loader) Load(ctx context.Context, path, table string) (Result, error) {
	var res Result
	if err := Check(path, table); err != nil {
		return res, err
	}
	// #nosec G304 -- the path is supplied by the operator.
	f, err := os.Open(path)
	if err != nil {
		return res, fmt.Errorf("open input: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	if err := l.store.EnsureTable(ctx, table); err != nil {
		return res, fmt.Errorf("ensure table: %w", err)
	}
	logger := l.logger.With(zap.String("file", path), zap.String("table", table))
	logger.Info("upload started")

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := record.ParseLine(scanner.Text())
		if err != nil {
			res.Skipped++
			metrics.ObserveUploadRow(table, outcomeSkipped)
			logger.Warn("skipping line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		inserted, err := l.store.Upsert(ctx, table, storage.ArticleRow{
			URL:      rec.URL,
			Title:    rec.Subject,
			Content:  rec.Content,
			Comments: rec.UploadComments(),
		})
		if err != nil {
			return res, fmt.Errorf("line %d: %w", lineNo, err)
		}
		res.Processed++
		if inserted {
			res.Inserted++
			metrics.ObserveUploadRow(table, outcomeInserted)
		} else {
			metrics.ObserveUploadRow(table, outcomeIgnored)
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read %s after line %d: %w", path, lineNo, err)
	}

	logger.Info("upload finished",
		zap.Int("processed", res.Processed),
		zap.Int("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
