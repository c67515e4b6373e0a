package crawler

import (
	"fmt"
	"time"
)

// Shape selects how a target was discovered and therefore how it is resolved.
type Shape string

// Traversal shapes.
const (
	// ShapeArticle is a single article addressed directly by cafe and article id.
	ShapeArticle Shape = "article"
	// ShapePopular is an article listed on a cafe's weekly popular board.
	ShapePopular Shape = "popular"
	// ShapeSearch is an article surfaced by the windowed cafe search.
	ShapeSearch Shape = "search"
	// ShapeBlog is a blog post surfaced by the windowed blog search.
	ShapeBlog Shape = "blog"
)

// DateWindow is an inclusive range of calendar days.
type DateWindow struct {
	From time.Time
	To   time.Time
}

// String renders the window the way the search endpoints expect it.
func (w DateWindow) String() string {
	return fmt.Sprintf("%s-%s", w.From.Format(DayLayout), w.To.Format(DayLayout))
}

// DayLayout is the compact date format used by the search endpoints.
const DayLayout = "20060102"

// CrawlTarget identifies one unit of discovered work. It is a value type and
// carries everything needed to resolve it, so no state lives elsewhere.
type CrawlTarget struct {
	Shape Shape
	// Keyword is the seed keyword for search and blog targets.
	Keyword string
	// CollectionID is the cafe id (numeric or nickname) or the blog id.
	CollectionID string
	// ItemID is the article id or blog log number.
	ItemID string
	// Window is the date window that surfaced the target, if any.
	Window *DateWindow
	// AuthToken is the query string a search hit carries (art key); it must
	// travel with every follow-up request for the same article.
	AuthToken string
	// SourceURL is the URL the target was discovered at, if any.
	SourceURL string
}

// Key returns the composite identity used for deduplication.
func (t CrawlTarget) Key() string {
	return t.CollectionID + "-" + t.ItemID
}

// RunStats summarizes one crawl run.
type RunStats struct {
	RunID      string `json:"run_id"`
	Shape      Shape  `json:"shape"`
	Seed       string `json:"seed"`
	Output     string `json:"output"`
	Discovered int64  `json:"discovered"`
	Written    int64  `json:"written"`
	Dropped    int64  `json:"dropped"`
	Duplicates int64  `json:"duplicates"`
	// FailedPages counts discovery pages (lists, search pages) that could not be read.
	FailedPages int64     `json:"failed_pages"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
