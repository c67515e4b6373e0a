package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/blog"
	"github.com/JakeFAU/cafe-etl/internal/cafe"
	"github.com/JakeFAU/cafe-etl/internal/fetcher"
	"github.com/JakeFAU/cafe-etl/internal/record"
)

// Resolve turns one target into a record: detail fetch, full comment
// pagination, assembly. Nothing is written here.
func (e *Engine) Resolve(ctx context.Context, target CrawlTarget) (record.Record, error) {
	switch target.Shape {
	case ShapeArticle:
		return e.resolveArticle(ctx, target, target.CollectionID, cafe.ArticleURL(target.CollectionID, target.ItemID, ""), "")
	case ShapePopular:
		return e.resolveArticle(ctx, target, target.CollectionID, cafe.PopularArticleURL(target.CollectionID, target.ItemID), "")
	case ShapeSearch:
		return e.resolveSearchHit(ctx, target)
	case ShapeBlog:
		return e.resolveBlogPost(ctx, target)
	default:
		return record.Record{}, fmt.Errorf("resolve %s: unknown shape %q", target.Key(), target.Shape)
	}
}

// resolveArticle fetches the article detail from articleURL and pages its
// comment thread. cafeID addresses the comment endpoint; authToken travels
// with every follow-up request and into the canonical URL.
func (e *Engine) resolveArticle(ctx context.Context, target CrawlTarget, cafeID, articleURL, authToken string) (record.Record, error) {
	resp, err := e.fetcher.Fetch(ctx, fetcher.Request{URL: articleURL})
	if err != nil {
		return record.Record{}, fmt.Errorf("fetch article %s: %w", target.Key(), err)
	}
	article, err := cafe.ParseArticle(resp.Body)
	if err != nil {
		return record.Record{}, fmt.Errorf("article %s: %w: %w", target.Key(), ErrMalformedPayload, err)
	}

	popular := cafe.IsPopularHost(resp.Location())
	pager := CommentPager(func(c cafe.Comment) string { return c.ID })
	comments, err := Paginate(ctx, target, pager, func(ctx context.Context, page int) ([]cafe.Comment, error) {
		commentURL := cafe.CommentURL(cafeID, article.ArticleID, page, authToken, popular)
		resp, err := e.fetcher.Fetch(ctx, fetcher.Request{URL: commentURL})
		if err != nil {
			return nil, err
		}
		items, err := cafe.ParseComments(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		return items, nil
	})
	if err != nil {
		return record.Record{}, fmt.Errorf("comments of %s: %w", target.Key(), err)
	}

	// An empty comment (a bare sticker, say) cannot survive the comment join.
	texts := make([]string, 0, len(comments))
	for _, c := range comments {
		if c.Content != "" {
			texts = append(texts, c.Content)
		}
	}
	return record.Record{
		ArticleID: article.ArticleID,
		BoardID:   article.BoardID,
		CafeName:  article.CafeName,
		BoardName: article.BoardName,
		UserID:    article.UserID,
		ReadCount: article.ReadCount,
		Subject:   article.Subject,
		Content:   article.Content,
		Comments:  texts,
		Date:      article.Date,
		URL:       cafe.PageURL(article.CafeURL, article.ArticleID, authToken),
	}, nil
}

// resolveSearchHit opens the article page a search hit links to, learns the
// numeric cafe id from it and continues through the article API. A page that
// lands on the mobile host or lacks the cafe id gets one retry on the
// canonical desktop URL; transport failures are not retried.
func (e *Engine) resolveSearchHit(ctx context.Context, target CrawlTarget) (record.Record, error) {
	pageURL := cafe.PageURL(target.CollectionID, target.ItemID, target.AuthToken)
	clubID, finalURL, err := e.articlePage(ctx, pageURL)
	if err != nil {
		if !errors.Is(err, ErrMobileRedirect) && !errors.Is(err, ErrMalformedPayload) {
			return record.Record{}, fmt.Errorf("article page %s: %w", target.Key(), err)
		}
		retryURL := pageURL
		if errors.Is(err, ErrMobileRedirect) {
			retryURL = finalURL
		}
		e.logger.Debug("retrying article page",
			zap.String("target", target.Key()),
			zap.String("url", retryURL),
			zap.Error(err),
		)
		clubID, finalURL, err = e.articlePage(ctx, retryURL)
		if err != nil {
			return record.Record{}, fmt.Errorf("article page %s: %w", target.Key(), err)
		}
	}

	authToken := target.AuthToken
	if u, perr := url.Parse(finalURL); perr == nil && u.RawQuery != "" {
		authToken = u.RawQuery
	}
	return e.resolveArticle(ctx, target, clubID, cafe.ArticleURL(clubID, target.ItemID, authToken), authToken)
}

// articlePage fetches one article page and extracts the numeric cafe id. On
// ErrMobileRedirect the returned URL is the canonical rewrite of where the
// request landed; otherwise it is the final URL.
func (e *Engine) articlePage(ctx context.Context, pageURL string) (string, string, error) {
	resp, err := e.fetcher.Fetch(ctx, fetcher.Request{URL: pageURL})
	if err != nil {
		return "", pageURL, err
	}
	if canonical, ok := cafe.CanonicalPageURL(resp.Location()); ok {
		return "", canonical, fmt.Errorf("%w: %s", ErrMobileRedirect, resp.Location())
	}
	clubID, err := cafe.ExtractClubID(resp.Body)
	if err != nil {
		return "", resp.Location(), fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return clubID, resp.Location(), nil
}

// resolveBlogPost renders a blog post through the session and applies the
// content policy to its body.
func (e *Engine) resolveBlogPost(ctx context.Context, target CrawlTarget) (record.Record, error) {
	postURL := blog.PostURL(target.CollectionID, target.ItemID)
	resp, err := e.fetcher.Fetch(ctx, fetcher.Request{URL: postURL, RequiresSession: true})
	if err != nil {
		return record.Record{}, fmt.Errorf("fetch post %s: %w", target.Key(), err)
	}
	post, err := blog.ParsePost(resp.Body)
	if err != nil {
		return record.Record{}, fmt.Errorf("post %s: %w: %w", target.Key(), ErrMalformedPayload, err)
	}
	if e.policy != nil {
		if word, hit := e.policy.Match(strings.Join(post.Paragraphs, " ")); hit {
			return record.Record{}, fmt.Errorf("post %s: %w: contains %q", target.Key(), ErrTargetDropped, word)
		}
	}
	return record.Record{
		ArticleID: target.ItemID,
		UserID:    target.CollectionID,
		Subject:   post.Subject,
		Content:   post.Content(),
		URL:       postURL,
	}, nil
}
