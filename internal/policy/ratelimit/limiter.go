// Package ratelimit serializes outbound requests: one request in flight for the
// whole crawl, with a minimum spacing between request starts.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/cafe-etl/internal/metrics"
)

// Limiter grants a single request slot at a time.
type Limiter struct {
	slot    *semaphore.Weighted
	spacing *rate.Limiter
}

// Config holds limiter configuration.
type Config struct {
	// Delay is the minimum time between two request starts. Zero disables spacing.
	Delay time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	return &Limiter{
		slot:    semaphore.NewWeighted(1),
		spacing: rate.NewLimiter(limit, 1),
	}
}

// Acquire blocks until the slot is free and the spacing has elapsed, respecting
// the context. The returned release func frees the slot and is safe to call twice.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := l.slot.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire slot: %w", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() { l.slot.Release(1) })
	}

	if err := l.spacing.Wait(ctx); err != nil {
		release()
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveThrottleWait(waited)
	}
	return release, nil
}
