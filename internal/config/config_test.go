package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/cafe-etl/internal/policy/simple"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Delay != 500*time.Millisecond || cfg.Crawler.SessionDelay != time.Second {
		t.Fatalf("unexpected delays: %+v", cfg.Crawler)
	}
	if len(cfg.Crawler.SessionHosts) != 1 || cfg.Crawler.SessionHosts[0] != "apis.naver.com" {
		t.Fatalf("unexpected session hosts: %v", cfg.Crawler.SessionHosts)
	}
	if cfg.Session.LoginWait != 20*time.Second {
		t.Fatalf("expected 20s login wait, got %v", cfg.Session.LoginWait)
	}
	if cfg.Search.OffsetStep != 30 || cfg.Search.OffsetCeiling != 60 || cfg.Search.WindowStrideDays != 1 {
		t.Fatalf("unexpected search defaults: %+v", cfg.Search)
	}
	if cfg.Blog.WindowDays != 3 || !slices.Equal(cfg.Blog.ForbiddenWords, simple.DefaultForbidden) {
		t.Fatalf("unexpected blog defaults: %+v", cfg.Blog)
	}
	if cfg.DB.Driver != DriverPostgres || cfg.Archive.Provider != ArchiveNone {
		t.Fatalf("unexpected db/archive defaults: %+v %+v", cfg.DB, cfg.Archive)
	}
	if cfg.Notify.Enabled() {
		t.Fatal("expected notify to be disabled by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  user_agent: test-agent
  delay: 2s
  output_dir: /tmp/out
  session_hosts: ["apis.naver.com", "blog.naver.com"]
session:
  login_wait: 5s
  headless: true
search:
  offset_step: 10
  offset_ceiling: 20
  window_stride_days: 3
blog:
  window_days: 7
  forbidden_words: ["광고"]
db:
  driver: sqlite
  dsn: file:test.db
archive:
  provider: gcs
  bucket: crawl-archive
notify:
  project_id: proj
  topic: runs
status:
  enabled: true
  addr: 127.0.0.1:9999
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.UserAgent != "test-agent" || cfg.Crawler.Delay != 2*time.Second {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if len(cfg.Crawler.SessionHosts) != 2 {
		t.Fatalf("expected two session hosts, got %v", cfg.Crawler.SessionHosts)
	}
	if !cfg.Session.Headless || cfg.Session.LoginWait != 5*time.Second {
		t.Fatalf("expected session overrides: %+v", cfg.Session)
	}
	if cfg.Search.WindowStrideDays != 3 || cfg.Blog.WindowDays != 7 || cfg.Blog.ForbiddenWords[0] != "광고" {
		t.Fatalf("expected traversal overrides: %+v %+v", cfg.Search, cfg.Blog)
	}
	if cfg.DB.Driver != DriverSQLite || cfg.DB.RequireDSN() != nil {
		t.Fatalf("expected sqlite with dsn: %+v", cfg.DB)
	}
	if cfg.Archive.Bucket != "crawl-archive" || !cfg.Notify.Enabled() || !cfg.Status.Enabled {
		t.Fatalf("expected archive/notify/status overrides")
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestRequireDSN(t *testing.T) {
	t.Parallel()

	if err := (DBConfig{DSN: "  "}).RequireDSN(); !errors.Is(err, ErrMissingDSN) {
		t.Fatalf("expected ErrMissingDSN, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Crawler: CrawlerConfig{RequestTimeout: time.Second},
		Search:  SearchConfig{OffsetStep: 30, OffsetCeiling: 60, WindowStrideDays: 1},
		DB:      DBConfig{Driver: DriverPostgres},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "negative delay", mutate: func(c *Config) { c.Crawler.Delay = -time.Second }, want: "crawler.delay"},
		{name: "zero timeout", mutate: func(c *Config) { c.Crawler.RequestTimeout = 0 }, want: "crawler.request_timeout"},
		{name: "zero offset step", mutate: func(c *Config) { c.Search.OffsetStep = 0 }, want: "search.offset_step"},
		{name: "zero offset ceiling", mutate: func(c *Config) { c.Search.OffsetCeiling = 0 }, want: "search.offset_ceiling"},
		{name: "zero window stride", mutate: func(c *Config) { c.Search.WindowStrideDays = 0 }, want: "search.window_stride_days"},
		{name: "negative blog window", mutate: func(c *Config) { c.Blog.WindowDays = -1 }, want: "blog.window_days"},
		{name: "unknown driver", mutate: func(c *Config) { c.DB.Driver = "mysql" }, want: "db.driver"},
		{name: "local archive without dir", mutate: func(c *Config) { c.Archive.Provider = ArchiveLocal }, want: "archive.base_dir"},
		{name: "gcs archive without bucket", mutate: func(c *Config) { c.Archive.Provider = ArchiveGCS }, want: "archive.bucket"},
		{name: "unknown archive", mutate: func(c *Config) { c.Archive.Provider = "s3" }, want: "archive.provider"},
		{name: "topic without project", mutate: func(c *Config) { c.Notify.Topic = "runs" }, want: "notify.project_id"},
		{name: "status without addr", mutate: func(c *Config) { c.Status.Enabled = true }, want: "status.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
