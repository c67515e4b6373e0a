// Package publisher announces finished crawl runs to downstream consumers.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/cafe-etl/internal/crawler"
)

// Publisher delivers a payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunSummary is the message published when a crawl run ends.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Shape       string        `json:"shape"`
	Seed        string        `json:"seed"`
	Output      string        `json:"output"`
	ArchiveURI  string        `json:"archive_uri,omitempty"`
	Discovered  int64         `json:"discovered"`
	Written     int64         `json:"written"`
	Dropped     int64         `json:"dropped"`
	Duplicates  int64         `json:"duplicates"`
	FailedPages int64         `json:"failed_pages"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Error       string        `json:"error,omitempty"`
}

// Summarize builds the summary of a run. runErr is the error Run returned, if any.
func Summarize(stats crawler.RunStats, archiveURI string, runErr error) RunSummary {
	summary := RunSummary{
		RunID:       stats.RunID,
		Shape:       string(stats.Shape),
		Seed:        stats.Seed,
		Output:      stats.Output,
		ArchiveURI:  archiveURI,
		Discovered:  stats.Discovered,
		Written:     stats.Written,
		Dropped:     stats.Dropped,
		Duplicates:  stats.Duplicates,
		FailedPages: stats.FailedPages,
		StartedAt:   stats.StartedAt,
		FinishedAt:  stats.FinishedAt,
		Elapsed:     stats.FinishedAt.Sub(stats.StartedAt),
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	return summary
}

// NotifyRun publishes the summary of a run to topic.
func NotifyRun(ctx context.Context, pub Publisher, topic string, summary RunSummary) (string, error) {
	id, err := pub.Publish(ctx, topic, summary)
	if err != nil {
		return "", fmt.Errorf("notify run %s: %w", summary.RunID, err)
	}
	return id, nil
}
