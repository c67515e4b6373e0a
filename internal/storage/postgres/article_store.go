// Package postgres upserts crawled articles into Postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/cafe-etl/internal/storage"
)

// ArticleStoreConfig controls the Postgres connection pool.
type ArticleStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ArticleStore writes article rows into Postgres tables.
type ArticleStore struct {
	pool execCloser
}

// NewArticleStore connects a pool using the provided config.
func NewArticleStore(ctx context.Context, cfg ArticleStoreConfig) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &ArticleStore{pool: pool}, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(pool execCloser) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ArticleStore{pool: pool}, nil
}

// EnsureTable creates table if it does not exist yet.
func (s *ArticleStore) EnsureTable(ctx context.Context, table string) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	url VARCHAR(512) NOT NULL UNIQUE,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	comments TEXT NOT NULL
)`, table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
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
VALUES ($1, $2, $3, $4)
ON CONFLICT (url) DO NOTHING`, table)
	tag, err := s.pool.Exec(ctx, query, row.URL, row.Title, row.Content, row.Comments)
	if err != nil {
		return false, fmt.Errorf("upsert into %s: %w", table, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
