package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/cafe-etl/internal/fetcher"
	"github.com/JakeFAU/cafe-etl/internal/record"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request fetcher.Request) (fetcher.Response, error)
}

// RecordSink receives fully assembled records, one call per record.
type RecordSink interface {
	Append(rec record.Record) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Seen reports whether an id is new, remembering it if so.
type Seen interface {
	MarkIfNew(id string) bool
}
