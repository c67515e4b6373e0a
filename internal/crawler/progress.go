package crawler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/cafe-etl/internal/metrics"
)

// Progress tracks the counters of the run in flight. It is safe to read from
// other goroutines, such as the status server.
type Progress struct {
	discovered  atomic.Int64
	written     atomic.Int64
	dropped     atomic.Int64
	duplicates  atomic.Int64
	failedPages atomic.Int64

	mu        sync.RWMutex
	runID     string
	shape     Shape
	seed      string
	output    string
	startedAt time.Time
	running   bool
}

// NewProgress returns an idle tracker.
func NewProgress() *Progress {
	return &Progress{}
}

func (p *Progress) start(runID string, shape Shape, seed, output string, at time.Time) {
	p.discovered.Store(0)
	p.written.Store(0)
	p.dropped.Store(0)
	p.duplicates.Store(0)
	p.failedPages.Store(0)

	p.mu.Lock()
	p.runID, p.shape, p.seed, p.output = runID, shape, seed, output
	p.startedAt = at
	p.running = true
	p.mu.Unlock()
}

func (p *Progress) finish() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// Running reports whether a run is in progress.
func (p *Progress) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Snapshot returns the current counters. FinishedAt is zero while running.
func (p *Progress) Snapshot() RunStats {
	p.mu.RLock()
	stats := RunStats{
		RunID:     p.runID,
		Shape:     p.shape,
		Seed:      p.seed,
		Output:    p.output,
		StartedAt: p.startedAt,
	}
	p.mu.RUnlock()
	stats.Discovered = p.discovered.Load()
	stats.Written = p.written.Load()
	stats.Dropped = p.dropped.Load()
	stats.Duplicates = p.duplicates.Load()
	stats.FailedPages = p.failedPages.Load()
	return stats
}

// countingSeen counts the keys a DuplicateIndex rejects.
type countingSeen struct {
	*DuplicateIndex
	shape      Shape
	duplicates *atomic.Int64
}

func (p *Progress) dedup(shape Shape) countingSeen {
	return countingSeen{DuplicateIndex: NewDuplicateIndex(), shape: shape, duplicates: &p.duplicates}
}

func (c countingSeen) MarkIfNew(id string) bool {
	if c.DuplicateIndex.MarkIfNew(id) {
		return true
	}
	c.duplicates.Add(1)
	metrics.ObserveTarget(string(c.shape), metrics.TargetDuplicate)
	return false
}
