package crawler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/cafe"
	"github.com/JakeFAU/cafe-etl/internal/metrics"
)

var (
	// ErrMalformedPayload marks a response that lacks the expected structure.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMobileRedirect marks an article page that stayed on the mobile host
	// after the corrective retry.
	ErrMobileRedirect = errors.New("redirected to mobile page")
	// ErrTargetDropped marks a target rejected by the content policy.
	ErrTargetDropped = errors.New("target dropped")
)

// ContentPolicy decides whether extracted text may be written.
type ContentPolicy interface {
	Match(texts ...string) (string, bool)
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// EngineConfig tunes traversal.
type EngineConfig struct {
	// SearchStride is the offset step between search pages.
	SearchStride int
	// SearchCeiling is the last search offset fetched within one window.
	SearchCeiling int
	// WindowStrideDays is the width of cafe search windows.
	WindowStrideDays int
	// BlogWindowDays is the width of blog search windows.
	BlogWindowDays int
}

// DefaultEngineConfig returns the traversal defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SearchStride:     cafe.SearchPageSize,
		SearchCeiling:    2 * cafe.SearchPageSize,
		WindowStrideDays: 1,
		BlogWindowDays:   3,
	}
}

// Engine discovers crawl targets and resolves each one into a record. It
// issues its requests strictly one after another.
type Engine struct {
	cfg      EngineConfig
	fetcher  Fetcher
	policy   ContentPolicy
	clock    Clock
	ids      IDGenerator
	logger   *zap.Logger
	progress *Progress
}

// NewEngine wires an Engine. policy and ids may be nil.
func NewEngine(cfg EngineConfig, fetcher Fetcher, policy ContentPolicy, clock Clock, ids IDGenerator, logger *zap.Logger) *Engine {
	defaults := DefaultEngineConfig()
	if cfg.SearchStride <= 0 {
		cfg.SearchStride = defaults.SearchStride
	}
	// Search pages repeat rather than run dry, so the ceiling is never lifted.
	if cfg.SearchCeiling <= 0 {
		cfg.SearchCeiling = defaults.SearchCeiling
	}
	if cfg.WindowStrideDays <= 0 {
		cfg.WindowStrideDays = defaults.WindowStrideDays
	}
	if cfg.BlogWindowDays < 0 {
		cfg.BlogWindowDays = defaults.BlogWindowDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		fetcher:  fetcher,
		policy:   policy,
		clock:    clock,
		ids:      ids,
		logger:   logger.Named("engine"),
		progress: NewProgress(),
	}
}

// Progress exposes the live counters of the current run.
func (e *Engine) Progress() *Progress {
	return e.progress
}

// Run drains seq, resolving each target and appending its record to sink. A
// target that fails to resolve is logged and skipped. Run stops early only
// when ctx is cancelled or the sink fails; the record being assembled at that
// point is discarded.
func (e *Engine) Run(ctx context.Context, shape Shape, seed, output string, seq iter.Seq[CrawlTarget], sink RecordSink) (RunStats, error) {
	runID := ""
	if e.ids != nil {
		id, err := e.ids.NewID()
		if err != nil {
			return RunStats{}, fmt.Errorf("new run id: %w", err)
		}
		runID = id
	}
	e.progress.start(runID, shape, seed, output, e.now())
	defer e.progress.finish()

	logger := e.logger.With(zap.String("run_id", runID), zap.String("shape", string(shape)), zap.String("seed", seed))
	logger.Info("crawl started", zap.String("output", output))

	var runErr error
	for target := range seq {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		e.progress.discovered.Add(1)
		metrics.ObserveTarget(string(target.Shape), metrics.TargetDiscovered)

		rec, err := e.Resolve(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			e.progress.dropped.Add(1)
			metrics.ObserveTarget(string(target.Shape), metrics.TargetDropped)
			logger.Warn("target dropped",
				zap.String("target", target.Key()),
				zap.String("keyword", target.Keyword),
				zap.Error(err),
			)
			continue
		}
		if err := sink.Append(rec); err != nil {
			runErr = fmt.Errorf("append record %s: %w", target.Key(), err)
			break
		}
		e.progress.written.Add(1)
		metrics.ObserveTarget(string(target.Shape), metrics.TargetWritten)
	}
	if runErr == nil {
		runErr = ctx.Err()
	}

	stats := e.progress.Snapshot()
	stats.FinishedAt = e.now()
	fields := []zap.Field{
		zap.Int64("discovered", stats.Discovered),
		zap.Int64("written", stats.Written),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("failed_pages", stats.FailedPages),
		zap.Duration("elapsed", stats.FinishedAt.Sub(stats.StartedAt)),
	}
	if runErr != nil {
		logger.Warn("crawl stopped", append(fields, zap.Error(runErr))...)
		return stats, runErr
	}
	logger.Info("crawl finished", fields...)
	return stats, nil
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}

func (e *Engine) pageFailed(shape Shape, key string, err error) {
	e.progress.failedPages.Add(1)
	e.logger.Warn("discovery page failed",
		zap.String("shape", string(shape)),
		zap.String("page", key),
		zap.Error(err),
	)
}
