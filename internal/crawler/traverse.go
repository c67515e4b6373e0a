package crawler

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/blog"
	"github.com/JakeFAU/cafe-etl/internal/cafe"
	"github.com/JakeFAU/cafe-etl/internal/fetcher"
)

// Articles yields one target per article id of a single cafe.
func (e *Engine) Articles(cafeID string, articleIDs ...string) iter.Seq[CrawlTarget] {
	return func(yield func(CrawlTarget) bool) {
		index := e.progress.dedup(ShapeArticle)
		for _, id := range articleIDs {
			target := CrawlTarget{Shape: ShapeArticle, CollectionID: cafeID, ItemID: id}
			if !index.MarkIfNew(target.Key()) {
				continue
			}
			if !yield(target) {
				return
			}
		}
	}
}

// Popular fetches the weekly popular list of a cafe and yields one target per
// entry. A list that cannot be read yields nothing.
func (e *Engine) Popular(ctx context.Context, cafeID string) iter.Seq[CrawlTarget] {
	return func(yield func(CrawlTarget) bool) {
		listURL := cafe.PopularListURL(cafeID)
		resp, err := e.fetcher.Fetch(ctx, fetcher.Request{URL: listURL})
		if err != nil {
			e.pageFailed(ShapePopular, listURL, err)
			return
		}
		_, entries, err := cafe.ParsePopularList(resp.Body)
		if err != nil {
			e.pageFailed(ShapePopular, listURL, fmt.Errorf("%w: %w", ErrMalformedPayload, err))
			return
		}
		index := e.progress.dedup(ShapePopular)
		for _, entry := range entries {
			target := CrawlTarget{
				Shape:        ShapePopular,
				CollectionID: cafeID,
				ItemID:       entry.ArticleID,
				SourceURL:    listURL,
			}
			if !index.MarkIfNew(target.Key()) {
				continue
			}
			if !yield(target) {
				return
			}
		}
	}
}

// Search partitions [from, to] into windows and pages through the search
// results of each window. The duplicate index lives for this keyword only,
// so a hit resurfacing in a later window or page is never yielded twice.
func (e *Engine) Search(ctx context.Context, keyword string, from, to time.Time) iter.Seq[CrawlTarget] {
	return func(yield func(CrawlTarget) bool) {
		index := e.progress.dedup(ShapeSearch)
		pager := SearchPager(e.cfg.SearchStride, e.cfg.SearchCeiling, cafe.SearchHit.Key)

		for _, window := range PartitionWindows(from, to, e.cfg.WindowStrideDays) {
			seed := CrawlTarget{Shape: ShapeSearch, Keyword: keyword, Window: &window}
			cursor := NewPageCursor(seed, pager, index)
			fetch := e.searchPage(keyword, window)
			for !cursor.Exhausted {
				if ctx.Err() != nil {
					return
				}
				offset := cursor.Page
				hits, err := cursor.Advance(ctx, fetch)
				if err != nil {
					e.pageFailed(ShapeSearch, fmt.Sprintf("%s %s@%d", keyword, window, offset), err)
					break
				}
				for _, hit := range hits {
					target := CrawlTarget{
						Shape:        ShapeSearch,
						Keyword:      keyword,
						CollectionID: hit.Cafe,
						ItemID:       hit.ArticleID,
						Window:       &window,
						AuthToken:    hit.AuthToken,
						SourceURL:    cafe.SearchURL(keyword, window.From.Format(DayLayout), window.To.Format(DayLayout), offset),
					}
					if !yield(target) {
						return
					}
				}
			}
		}
		e.logger.Debug("search exhausted", zap.String("keyword", keyword), zap.Int("unique_hits", index.Len()))
	}
}

func (e *Engine) searchPage(keyword string, window DateWindow) PageFunc[cafe.SearchHit] {
	from, to := window.From.Format(DayLayout), window.To.Format(DayLayout)
	return func(ctx context.Context, offset int) ([]cafe.SearchHit, error) {
		resp, err := e.fetcher.Fetch(ctx, fetcher.Request{URL: cafe.SearchURL(keyword, from, to, offset)})
		if err != nil {
			return nil, err
		}
		hits, err := cafe.ParseSearchHits(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		return hits, nil
	}
}

// Blog partitions [from, to] into blog windows and yields one target per post
// link of each window's result page.
func (e *Engine) Blog(ctx context.Context, keyword string, from, to time.Time) iter.Seq[CrawlTarget] {
	return func(yield func(CrawlTarget) bool) {
		index := e.progress.dedup(ShapeBlog)
		for _, window := range BlogWindows(from, to, e.cfg.BlogWindowDays) {
			if ctx.Err() != nil {
				return
			}
			searchURL := blog.SearchURL(keyword, window.From.Format(DayLayout), window.To.Format(DayLayout))
			resp, err := e.fetcher.Fetch(ctx, fetcher.Request{URL: searchURL, RequiresSession: true})
			if err != nil {
				e.pageFailed(ShapeBlog, searchURL, err)
				continue
			}
			links, err := blog.ParseSearchLinks(resp.Body)
			if err != nil {
				e.pageFailed(ShapeBlog, searchURL, fmt.Errorf("%w: %w", ErrMalformedPayload, err))
				continue
			}
			for _, link := range links {
				target := CrawlTarget{
					Shape:        ShapeBlog,
					Keyword:      keyword,
					CollectionID: link.BlogID,
					ItemID:       link.LogNo,
					Window:       &window,
					SourceURL:    searchURL,
				}
				if !index.MarkIfNew(target.Key()) {
					continue
				}
				if !yield(target) {
					return
				}
			}
		}
		e.logger.Debug("blog search exhausted", zap.String("keyword", keyword), zap.Int("unique_posts", index.Len()))
	}
}
