// Package sqlite upserts crawled articles into a SQLite database file, for
// local runs without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/cafe-etl/internal/storage"
)

// ArticleStore writes article rows into SQLite tables.
type ArticleStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn.
func Open(ctx context.Context, dsn string) (*ArticleStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps in-memory databases on a single connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &ArticleStore{db: db}, nil
}

// EnsureTable creates table if it does not exist yet.
func (s *ArticleStore) EnsureTable(ctx context.Context, table string) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url VARCHAR(512) NOT NULL UNIQUE,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	comments TEXT NOT NULL
)`, table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// Upsert inserts row unless a row with the same URL exists. It reports
// whether a row was inserted.
func (s *ArticleStore) Upsert(ctx context.Context, table string, row storage.ArticleRow) (bool, error) {
	if err := storage.ValidateTable(table); err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, title, content, comments)
VALUES (?, ?, ?, ?)
ON CONFLICT(url) DO NOTHING`, table)
	res, err := s.db.ExecContext(ctx, query, row.URL, row.Title, row.Content, row.Comments)
	if err != nil {
		return false, fmt.Errorf("upsert into %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Count returns the number of rows in table.
func (s *ArticleStore) Count(ctx context.Context, table string) (int, error) {
	if err := storage.ValidateTable(table); err != nil {
		return 0, err
	}
	var n int
	// #nosec G201 -- table is validated above.
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Close closes the database.
func (s *ArticleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
