package crawler

import (
	"context"
	"fmt"
)

// Termination selects the exhaustion rule of a paginated resource.
type Termination int

const (
	// StopOnEmptyPage ends pagination when a page carries no items at all.
	// Comment threads signal their end this way.
	StopOnEmptyPage Termination = iota
	// StopOnNoNewItems ends pagination when a page carries nothing unseen.
	// Search results repeat earlier hits instead of returning an empty page.
	StopOnNoNewItems
)

// Pager describes how a resource is paged.
type Pager[T any] struct {
	// Start is the first page number or offset.
	Start int
	// Step is added to the page number or offset after every round.
	Step int
	// Ceiling is the last page number or offset that may be fetched; 0 means unbounded.
	Ceiling int
	// Stop is the exhaustion rule.
	Stop Termination
	// ID returns the identity of an item for deduplication.
	ID func(T) string
}

// CommentPager pages a comment thread: pages 1, 2, 3, … until an empty page.
func CommentPager[T any](id func(T) string) Pager[T] {
	return Pager[T]{Start: 1, Step: 1, Stop: StopOnEmptyPage, ID: id}
}

// SearchPager pages search results at a fixed offset stride until a round
// yields nothing new or the offset ceiling is passed.
func SearchPager[T any](stride, ceiling int, id func(T) string) Pager[T] {
	return Pager[T]{Start: 0, Step: stride, Ceiling: ceiling, Stop: StopOnNoNewItems, ID: id}
}

// PageFunc fetches one page (or offset) of a resource and extracts its items.
type PageFunc[T any] func(ctx context.Context, page int) ([]T, error)

// PageCursor is the progress through one paginated resource.
type PageCursor[T any] struct {
	Target    CrawlTarget
	Page      int
	Items     []T
	Exhausted bool

	pager Pager[T]
	seen  Seen
}

// NewPageCursor starts a cursor at the pager's first page. A nil seen set
// gives the cursor a private one.
func NewPageCursor[T any](target CrawlTarget, pager Pager[T], seen Seen) *PageCursor[T] {
	if pager.Step <= 0 {
		pager.Step = 1
	}
	if seen == nil {
		seen = localSeen{}
	}
	return &PageCursor[T]{
		Target: target,
		Page:   pager.Start,
		pager:  pager,
		seen:   seen,
	}
}

// Advance fetches the current page, keeps the unseen items in arrival order,
// and moves to the next page. It returns the items new on this page.
func (c *PageCursor[T]) Advance(ctx context.Context, fetch PageFunc[T]) ([]T, error) {
	if c.Exhausted {
		return nil, nil
	}
	if c.pastCeiling() {
		c.Exhausted = true
		return nil, nil
	}
	items, err := fetch(ctx, c.Page)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", c.Page, err)
	}

	fresh := make([]T, 0, len(items))
	for _, item := range items {
		if c.seen.MarkIfNew(c.pager.ID(item)) {
			fresh = append(fresh, item)
		}
	}
	c.Items = append(c.Items, fresh...)

	switch c.pager.Stop {
	case StopOnEmptyPage:
		c.Exhausted = len(items) == 0
	case StopOnNoNewItems:
		c.Exhausted = len(fresh) == 0
	}
	c.Page += c.pager.Step
	if c.pastCeiling() {
		c.Exhausted = true
	}
	return fresh, nil
}

func (c *PageCursor[T]) pastCeiling() bool {
	return c.pager.Ceiling > 0 && c.Page > c.pager.Ceiling
}

// Paginate drives a fresh cursor until exhaustion and returns every unique
// item in arrival order. On a fetch failure the items gathered so far are
// returned together with the error.
func Paginate[T any](ctx context.Context, target CrawlTarget, pager Pager[T], fetch PageFunc[T]) ([]T, error) {
	cursor := NewPageCursor(target, pager, nil)
	for !cursor.Exhausted {
		if err := ctx.Err(); err != nil {
			return cursor.Items, fmt.Errorf("paginate %s: %w", target.Key(), err)
		}
		if _, err := cursor.Advance(ctx, fetch); err != nil {
			return cursor.Items, err
		}
	}
	return cursor.Items, nil
}
