// Package config loads and validates cafe-etl configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/cafe-etl/internal/crawler"
	"github.com/JakeFAU/cafe-etl/internal/policy/simple"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Session SessionConfig `mapstructure:"session"`
	Search  SearchConfig  `mapstructure:"search"`
	Blog    BlogConfig    `mapstructure:"blog"`
	DB      DBConfig      `mapstructure:"db"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Status  StatusConfig  `mapstructure:"status"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs the fetch adapter and output files.
type CrawlerConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	// Delay is the minimum spacing between two request starts.
	Delay time.Duration `mapstructure:"delay"`
	// SessionDelay is the pause before every request sent through the browser.
	SessionDelay   time.Duration `mapstructure:"session_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	OutputDir      string        `mapstructure:"output_dir"`
	// SessionHosts are routed through the browser even without an explicit request.
	SessionHosts []string `mapstructure:"session_hosts"`
}

// SessionConfig configures the interactive login browser.
type SessionConfig struct {
	LoginURL          string        `mapstructure:"login_url"`
	LoginWait         time.Duration `mapstructure:"login_wait"`
	Headless          bool          `mapstructure:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// SearchConfig configures windowed cafe search.
type SearchConfig struct {
	OffsetStep       int `mapstructure:"offset_step"`
	OffsetCeiling    int `mapstructure:"offset_ceiling"`
	WindowStrideDays int `mapstructure:"window_stride_days"`
}

// BlogConfig configures windowed blog search.
type BlogConfig struct {
	WindowDays     int      `mapstructure:"window_days"`
	ForbiddenWords []string `mapstructure:"forbidden_words"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBConfig controls access to the relational database the upload pass writes to.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// Archive providers.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// ArchiveConfig selects where finished crawl files are copied.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// NotifyConfig holds the Pub/Sub topic that receives run summaries.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether run summaries should be published.
func (n NotifyConfig) Enabled() bool {
	return n.Topic != ""
}

// StatusConfig toggles the status server that runs alongside a crawl.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAFEETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("crawler.delay", "500ms")
	v.SetDefault("crawler.session_delay", "1s")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.output_dir", ".")
	v.SetDefault("crawler.session_hosts", []string{"apis.naver.com"})
	v.SetDefault("session.login_url", "https://nid.naver.com/nidlogin.login")
	v.SetDefault("session.login_wait", "20s")
	v.SetDefault("session.headless", false)
	v.SetDefault("session.navigation_timeout", "30s")
	engine := crawler.DefaultEngineConfig()
	v.SetDefault("search.offset_step", engine.SearchStride)
	v.SetDefault("search.offset_ceiling", engine.SearchCeiling)
	v.SetDefault("search.window_stride_days", engine.WindowStrideDays)
	v.SetDefault("blog.window_days", engine.BlogWindowDays)
	v.SetDefault("blog.forbidden_words", simple.DefaultForbidden)
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.prefix", "crawls")
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.addr", ":9090")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.Crawler.SessionDelay < 0 {
		return fmt.Errorf("crawler.session_delay must be >= 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Session.LoginWait < 0 {
		return fmt.Errorf("session.login_wait must be >= 0")
	}
	if c.Search.OffsetStep <= 0 {
		return fmt.Errorf("search.offset_step must be > 0")
	}
	if c.Search.OffsetCeiling <= 0 {
		return fmt.Errorf("search.offset_ceiling must be > 0")
	}
	if c.Search.WindowStrideDays <= 0 {
		return fmt.Errorf("search.window_stride_days must be > 0")
	}
	if c.Blog.WindowDays < 0 {
		return fmt.Errorf("blog.window_days must be >= 0")
	}
	if !slices.Contains([]string{DriverPostgres, DriverSQLite}, c.DB.Driver) {
		return fmt.Errorf("db.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DB.Driver)
	}
	switch c.Archive.Provider {
	case "", ArchiveNone:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local provider")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	if c.Status.Enabled && c.Status.Addr == "" {
		return fmt.Errorf("status.addr must be set when the status server is enabled")
	}
	return nil
}

// ErrMissingDSN is returned by RequireDSN when no database is configured.
var ErrMissingDSN = errors.New("db.dsn must be set")

// RequireDSN checks the settings the upload pass cannot run without.
func (d DBConfig) RequireDSN() error {
	if strings.TrimSpace(d.DSN) == "" {
		return ErrMissingDSN
	}
	return nil
}
