// Package server builds the long-lived dependencies of a crawl or upload run
// from configuration and drives one run end to end.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/api"
	"github.com/JakeFAU/cafe-etl/internal/clock/system"
	"github.com/JakeFAU/cafe-etl/internal/config"
	"github.com/JakeFAU/cafe-etl/internal/crawler"
	"github.com/JakeFAU/cafe-etl/internal/fetcher"
	collyfetcher "github.com/JakeFAU/cafe-etl/internal/fetcher/colly"
	"github.com/JakeFAU/cafe-etl/internal/fetcher/headless"
	"github.com/JakeFAU/cafe-etl/internal/id/uuid"
	"github.com/JakeFAU/cafe-etl/internal/policy/ratelimit"
	"github.com/JakeFAU/cafe-etl/internal/policy/simple"
	"github.com/JakeFAU/cafe-etl/internal/publisher"
	memorypublisher "github.com/JakeFAU/cafe-etl/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/cafe-etl/internal/publisher/pubsub"
	"github.com/JakeFAU/cafe-etl/internal/sink"
	"github.com/JakeFAU/cafe-etl/internal/storage"
	gcsstorage "github.com/JakeFAU/cafe-etl/internal/storage/gcs"
	localstorage "github.com/JakeFAU/cafe-etl/internal/storage/local"
	pgstore "github.com/JakeFAU/cafe-etl/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/cafe-etl/internal/storage/sqlite"
	"github.com/JakeFAU/cafe-etl/internal/upload"
)

// finishTimeout bounds archiving and notification once a run has ended,
// including runs ended by cancellation.
const finishTimeout = 30 * time.Second

// ErrInvalidRequest is returned when a crawl request lacks its seed.
var ErrInvalidRequest = errors.New("invalid crawl request")

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock
	ids    crawler.IDGenerator

	fetcher      crawler.Fetcher
	session      *headless.Session
	archive      storage.BlobStore
	publisher    publisher.Publisher
	articleStore upload.Store

	// archiveCloser and pubsub are set only for clients Build opened itself.
	archiveCloser io.Closer
	pubsub        *gcppublisher.Publisher
	closeOnce     sync.Once
}

// Option overrides a dependency Build would otherwise derive from config.
type Option func(*App)

// WithFetcher replaces the browser session and plain fetcher pair.
func WithFetcher(f crawler.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithArchive replaces the configured archive store.
func WithArchive(store storage.BlobStore) Option {
	return func(a *App) { a.archive = store }
}

// WithPublisher replaces the configured run notifier.
func WithPublisher(p publisher.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithArticleStore replaces the configured upload database.
func WithArticleStore(s upload.Store) Option {
	return func(a *App) { a.articleStore = s }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(a *App) { a.clock = c }
}

// Build creates the application's dependencies. The browser session and the
// database are opened lazily by the run that needs them.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) setupArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	switch a.cfg.Archive.Provider {
	case config.ArchiveGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.archive = store
		a.archiveCloser = store
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Archive.Bucket))
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		a.archive = store
		a.logger.Info("using local archive", zap.String("path", a.cfg.Archive.BaseDir))
	default:
		a.logger.Debug("archive disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.publisher != nil {
		return nil
	}
	if !a.cfg.Notify.Enabled() {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.Notify.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Notify.ProjectID),
		zap.String("topic", a.cfg.Notify.Topic),
	)
	return nil
}

// setupFetcher opens the browser session, blocking for the login window, and
// routes it together with the plain fetcher behind the global throttle.
func (a *App) setupFetcher(ctx context.Context) (crawler.Fetcher, error) {
	if a.fetcher != nil {
		return a.fetcher, nil
	}
	session, err := headless.Acquire(ctx, headless.Config{
		LoginURL:          a.cfg.Session.LoginURL,
		LoginWait:         a.cfg.Session.LoginWait,
		Headless:          a.cfg.Session.Headless,
		UserAgent:         a.cfg.Crawler.UserAgent,
		NavigationTimeout: a.cfg.Session.NavigationTimeout,
		RequestDelay:      a.cfg.Crawler.SessionDelay,
	}, a.logger.Named("session"))
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	a.session = session

	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Crawler.UserAgent,
		Timeout:   a.cfg.Crawler.RequestTimeout,
	})
	throttle := ratelimit.New(ratelimit.Config{Delay: a.cfg.Crawler.Delay})
	a.fetcher = fetcher.NewRouter(
		fetcher.RouterConfig{SessionHosts: a.cfg.Crawler.SessionHosts},
		session,
		plain,
		throttle,
		a.logger.Named("fetcher"),
	)
	return a.fetcher, nil
}

func (a *App) setupDatabase(ctx context.Context) (upload.Store, func(), error) {
	if a.articleStore != nil {
		return a.articleStore, func() {}, nil
	}
	if err := a.cfg.DB.RequireDSN(); err != nil {
		return nil, nil, err
	}
	var (
		store  upload.Store
		closer func() error
	)
	switch a.cfg.DB.Driver {
	case config.DriverSQLite:
		s, err := sqlitestore.Open(ctx, a.cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		store, closer = s, s.Close
	default:
		s, err := pgstore.NewArticleStore(ctx, pgstore.ArticleStoreConfig{
			DSN:      a.cfg.DB.DSN,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		store, closer = s, s.Close
	}
	a.logger.Info("article store initialized", zap.String("driver", a.cfg.DB.Driver))
	return store, func() {
		if err := closer(); err != nil {
			a.logger.Warn("article store close failed", zap.Error(err))
		}
	}, nil
}

// CrawlRequest names one traversal and its seed.
type CrawlRequest struct {
	Shape crawler.Shape
	// CafeID seeds article and popular crawls.
	CafeID string
	// ArticleIDs are the articles of a direct crawl.
	ArticleIDs []string
	// Keyword seeds search and blog crawls.
	Keyword string
	From    time.Time
	To      time.Time
}

// Seed returns the value output files are named after.
func (r CrawlRequest) Seed() string {
	switch r.Shape {
	case crawler.ShapeSearch, crawler.ShapeBlog:
		return r.Keyword
	default:
		return r.CafeID
	}
}

// Validate checks the request carries the seed its shape needs.
func (r CrawlRequest) Validate() error {
	switch r.Shape {
	case crawler.ShapeArticle:
		if strings.TrimSpace(r.CafeID) == "" || len(r.ArticleIDs) == 0 {
			return fmt.Errorf("%w: article crawl needs a cafe and at least one article id", ErrInvalidRequest)
		}
	case crawler.ShapePopular:
		if strings.TrimSpace(r.CafeID) == "" {
			return fmt.Errorf("%w: popular crawl needs a cafe", ErrInvalidRequest)
		}
	case crawler.ShapeSearch, crawler.ShapeBlog:
		if strings.TrimSpace(r.Keyword) == "" {
			return fmt.Errorf("%w: %s crawl needs a keyword", ErrInvalidRequest, r.Shape)
		}
		if r.From.IsZero() || r.To.IsZero() {
			return fmt.Errorf("%w: %s crawl needs a date range", ErrInvalidRequest, r.Shape)
		}
	default:
		return fmt.Errorf("%w: unknown shape %q", ErrInvalidRequest, r.Shape)
	}
	return nil
}

// Crawl runs one traversal into its output file, then archives the file and
// publishes the run summary. The summary is returned even when the run stopped
// early; its Error field mirrors the returned error.
func (a *App) Crawl(ctx context.Context, req CrawlRequest) (publisher.RunSummary, error) {
	if err := req.Validate(); err != nil {
		return publisher.RunSummary{}, err
	}
	fetch, err := a.setupFetcher(ctx)
	if err != nil {
		return publisher.RunSummary{}, err
	}

	engine := crawler.NewEngine(crawler.EngineConfig{
		SearchStride:     a.cfg.Search.OffsetStep,
		SearchCeiling:    a.cfg.Search.OffsetCeiling,
		WindowStrideDays: a.cfg.Search.WindowStrideDays,
		BlogWindowDays:   a.cfg.Blog.WindowDays,
	}, fetch, simple.New(a.cfg.Blog.ForbiddenWords), a.clock, a.ids, a.logger)

	stopStatus := a.serveStatus(ctx, engine.Progress())
	defer stopStatus()

	seed := req.Seed()
	output := sink.OutputPath(a.cfg.Crawler.OutputDir, req.Shape, seed)
	out, err := sink.Open(output)
	if err != nil {
		return publisher.RunSummary{}, err
	}

	stats, runErr := engine.Run(ctx, req.Shape, seed, output, a.targets(ctx, engine, req), out)
	if err := out.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close output: %w", err))
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	archiveURI := a.archiveOutput(finishCtx, stats, output)
	summary := publisher.Summarize(stats, archiveURI, runErr)
	a.notify(finishCtx, summary)
	return summary, runErr
}

func (a *App) targets(ctx context.Context, engine *crawler.Engine, req CrawlRequest) iter.Seq[crawler.CrawlTarget] {
	switch req.Shape {
	case crawler.ShapePopular:
		return engine.Popular(ctx, req.CafeID)
	case crawler.ShapeSearch:
		return engine.Search(ctx, req.Keyword, req.From, req.To)
	case crawler.ShapeBlog:
		return engine.Blog(ctx, req.Keyword, req.From, req.To)
	default:
		return engine.Articles(req.CafeID, req.ArticleIDs...)
	}
}

func (a *App) serveStatus(ctx context.Context, progress *crawler.Progress) func() {
	if !a.cfg.Status.Enabled {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	srv := api.NewServer(progress, a.logger.Named("api"))
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(srvCtx, a.cfg.Status.Addr); err != nil {
			a.logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *App) archiveOutput(ctx context.Context, stats crawler.RunStats, output string) string {
	if a.archive == nil {
		return ""
	}
	objectPath := storage.ObjectPath(a.cfg.Archive.Prefix, stats.RunID, stats.FinishedAt, output)
	uri, err := storage.Archive(ctx, a.archive, objectPath, output)
	if err != nil {
		a.logger.Warn("archive failed", zap.String("output", output), zap.Error(err))
		return ""
	}
	a.logger.Info("output archived", zap.String("uri", uri))
	return uri
}

func (a *App) notify(ctx context.Context, summary publisher.RunSummary) {
	if a.publisher == nil {
		return
	}
	id, err := publisher.NotifyRun(ctx, a.publisher, a.cfg.Notify.Topic, summary)
	if err != nil {
		a.logger.Warn("run notification failed", zap.Error(err))
		return
	}
	a.logger.Debug("run notification published", zap.String("message_id", id))
}

// Upload loads a crawl file into table. The table and file are checked before
// the database is opened, and the database is closed before Upload returns,
// whatever the outcome.
func (a *App) Upload(ctx context.Context, path, table string) (upload.Result, error) {
	if err := upload.Check(path, table); err != nil {
		return upload.Result{}, err
	}
	store, closeStore, err := a.setupDatabase(ctx)
	if err != nil {
		return upload.Result{}, err
	}
	defer closeStore()
	return upload.NewLoader(store, a.logger.Named("upload")).Load(ctx, path, table)
}

// Close gracefully shuts down the application. It is safe to call twice.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.session != nil {
			a.session.Close()
		}
		if a.pubsub != nil {
			if err := a.pubsub.Close(); err != nil {
				a.logger.Warn("pubsub client close failed", zap.Error(err))
			}
		}
		if a.archiveCloser != nil {
			if err := a.archiveCloser.Close(); err != nil {
				a.logger.Warn("archive close failed", zap.Error(err))
			}
		}
		a.logger.Debug("shutdown complete")
	})
}
