package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/blog"
	"github.com/JakeFAU/cafe-etl/internal/cafe"
	"github.com/JakeFAU/cafe-etl/internal/fetcher"
	"github.com/JakeFAU/cafe-etl/internal/policy/simple"
	"github.com/JakeFAU/cafe-etl/internal/record"
)

type fakePage struct {
	body  string
	final string
	err   error
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]fakePage
	calls []fetcher.Request
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]fakePage{}}
}

func (f *fakeFetcher) add(url, body string) {
	f.pages[url] = fakePage{body: body}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if err := ctx.Err(); err != nil {
		return fetcher.Response{}, err
	}
	page, ok := f.pages[req.URL]
	if !ok {
		return fetcher.Response{}, fmt.Errorf("no page for %s", req.URL)
	}
	if page.err != nil {
		return fetcher.Response{}, page.err
	}
	return fetcher.Response{URL: req.URL, FinalURL: page.final, StatusCode: 200, Body: []byte(page.body)}, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.URL == url {
			n++
		}
	}
	return n
}

func (f *fakeFetcher) urls(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c.URL, prefix) {
			out = append(out, c.URL)
		}
	}
	return out
}

type memorySink struct {
	records []record.Record
	err     error
}

func (s *memorySink) Append(rec record.Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

func newTestEngine(f Fetcher, cfg EngineConfig) *Engine {
	clock := fixedClock{t: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)}
	return NewEngine(cfg, f, simple.New(simple.DefaultForbidden), clock, fixedIDs{}, zap.NewNop())
}

func TestNewEngineKeepsSearchCeiling(t *testing.T) {
	t.Parallel()

	e := NewEngine(EngineConfig{SearchCeiling: 0}, nil, nil, nil, nil, nil)
	assert.Equal(t, 2*cafe.SearchPageSize, e.cfg.SearchCeiling)
	assert.Equal(t, cafe.SearchPageSize, e.cfg.SearchStride)
}

func articleJSON(articleID, cafeURL, subject string) string {
	return fmt.Sprintf(`{"result":{"articleId":%s,"article":{"menu":{"id":7,"name":"reviews"},"writer":{"nick":"writer"},"readCount":3,"subject":%q,"contentHtml":"<p>body of %s</p>","writeDate":1735776000000},"cafe":{"pcCafeName":"Skin Club","url":%q}}}`,
		articleID, subject, articleID, cafeURL)
}

func commentsJSON(comments ...string) string {
	items := make([]map[string]string, 0, len(comments))
	for i, c := range comments {
		items = append(items, map[string]string{"id": fmt.Sprint(i + 1), "content": c})
	}
	raw, _ := json.Marshal(map[string]any{"result": map[string]any{"comments": map[string]any{"items": items}}})
	return string(raw)
}

// searchJSON renders a search page; each link is "cafe/article?query".
func searchJSON(links ...string) string {
	var b strings.Builder
	for _, link := range links {
		fmt.Fprintf(&b, `<li><div><div></div><div><div><a href="https://cafe.naver.com/%s">title</a></div></div></div></li>`, link)
	}
	raw, _ := json.Marshal(map[string]any{"collection": []map[string]string{{"html": b.String()}}})
	return string(raw)
}

// addSearchArticle registers everything a search hit needs to resolve.
func addSearchArticle(f *fakeFetcher, nick, clubID, articleID, token string, comments ...string) {
	f.add(cafe.PageURL(nick, articleID, token), fmt.Sprintf(`<script>var g_sClubId = "%s";</script>`, clubID))
	f.add(cafe.ArticleURL(clubID, articleID, token), articleJSON(articleID, nick, "subject "+articleID))
	f.add(cafe.CommentURL(clubID, articleID, 1, token, false), commentsJSON(comments...))
	f.add(cafe.CommentURL(clubID, articleID, 2, token, false), commentsJSON())
}

func day(s string) time.Time {
	t, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSearchThreeWindowsPagedAtFixedOffsets(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	for _, d := range []string{"20250101", "20250102", "20250103"} {
		for i, offset := range []int{0, 30, 60} {
			f.add(cafe.SearchURL("A", d, d, offset), searchJSON(fmt.Sprintf("cafe%s/%d", d, i)))
		}
	}
	e := newTestEngine(f, DefaultEngineConfig())

	var targets []CrawlTarget
	for target := range e.Search(context.Background(), "A", day("2025-01-01"), day("2025-01-03")) {
		targets = append(targets, target)
	}

	require.Len(t, targets, 9)
	searches := f.urls("https://s.search.naver.com/")
	require.Len(t, searches, 9)
	for i, d := range []string{"20250101", "20250102", "20250103"} {
		assert.Equal(t, cafe.SearchURL("A", d, d, 0), searches[3*i])
		assert.Equal(t, cafe.SearchURL("A", d, d, 30), searches[3*i+1])
		assert.Equal(t, cafe.SearchURL("A", d, d, 60), searches[3*i+2])
	}
	assert.Equal(t, "A", targets[0].Keyword)
	assert.Equal(t, "20250101-20250101", targets[0].Window.String())
	assert.Zero(t, e.Progress().Snapshot().FailedPages)
}

func TestSearchStopsOnDuplicateOnlyPage(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.add(cafe.SearchURL("A", "20250101", "20250101", 0), searchJSON("x/1", "x/2"))
	f.add(cafe.SearchURL("A", "20250101", "20250101", 30), searchJSON("x/2", "x/1"))
	e := newTestEngine(f, DefaultEngineConfig())

	var keys []string
	for target := range e.Search(context.Background(), "A", day("20250101"), day("20250101")) {
		keys = append(keys, target.Key())
	}
	assert.Equal(t, []string{"x-1", "x-2"}, keys)
	assert.Len(t, f.urls("https://s.search.naver.com/"), 2)
}

func TestSearchOverlappingWindowsSuppressDuplicates(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	// Stride 2 over 01..04 gives [01,03] and [03,04], sharing the 3rd.
	f.add(cafe.SearchURL("A", "20250101", "20250103", 0), searchJSON("cafe123/999?art=k1"))
	f.add(cafe.SearchURL("A", "20250101", "20250103", 30), searchJSON("cafe123/999?art=k1"))
	f.add(cafe.SearchURL("A", "20250103", "20250104", 0), searchJSON("cafe123/999?art=k1", "cafe123/1000?art=k2"))
	f.add(cafe.SearchURL("A", "20250103", "20250104", 30), searchJSON("cafe123/1000?art=k2"))
	addSearchArticle(f, "cafe123", "555", "999", "art=k1", "nice")
	addSearchArticle(f, "cafe123", "555", "1000", "art=k2")

	cfg := DefaultEngineConfig()
	cfg.WindowStrideDays = 2
	e := newTestEngine(f, cfg)
	sink := &memorySink{}

	stats, err := e.Run(context.Background(), ShapeSearch, "A", "out.tsv", e.Search(context.Background(), "A", day("20250101"), day("20250104")), sink)
	require.NoError(t, err)

	require.Len(t, sink.records, 2)
	assert.Equal(t, "999", sink.records[0].ArticleID)
	assert.Equal(t, "1000", sink.records[1].ArticleID)
	assert.Equal(t, 1, f.count(cafe.PageURL("cafe123", "999", "art=k1")))
	assert.Equal(t, int64(2), stats.Discovered)
	assert.Equal(t, int64(2), stats.Written)
	assert.Equal(t, int64(3), stats.Duplicates)
	assert.Equal(t, "run-1", stats.RunID)
}

func TestResolveSearchHitRetriesMobileRedirectOnce(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	desktop := cafe.PageURL("skincare", "42", "art=tok")
	// The canonical rewrite of the mobile page is the desktop URL itself, so
	// the retry lands on mobile again.
	f.pages[desktop] = fakePage{body: "<html>mobile</html>", final: "https://m.cafe.naver.com/skincare/42?art=tok"}

	e := newTestEngine(f, DefaultEngineConfig())
	target := CrawlTarget{Shape: ShapeSearch, CollectionID: "skincare", ItemID: "42", AuthToken: "art=tok"}
	_, err := e.Resolve(context.Background(), target)
	require.ErrorIs(t, err, ErrMobileRedirect)
	assert.Equal(t, 2, f.count(desktop))
}

func TestResolveSearchHitMobileThenDesktop(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	first := cafe.PageURL("skincare", "42", "art=tok")
	f.pages[first] = fakePage{body: "<html>mobile</html>", final: "https://m.cafe.naver.com/skincare/42?art=tok&from=m"}
	f.add("https://cafe.naver.com/skincare/42?art=tok&from=m", `<script>var g_sClubId = "777";</script>`)
	f.add(cafe.ArticleURL("777", "42", "art=tok&from=m"), articleJSON("42", "skincare", "hello"))
	f.add(cafe.CommentURL("777", "42", 1, "art=tok&from=m", false), commentsJSON("first\ncomment", "second"))
	f.add(cafe.CommentURL("777", "42", 2, "art=tok&from=m", false), commentsJSON())

	e := newTestEngine(f, DefaultEngineConfig())
	rec, err := e.Resolve(context.Background(), CrawlTarget{Shape: ShapeSearch, CollectionID: "skincare", ItemID: "42", AuthToken: "art=tok"})
	require.NoError(t, err)

	assert.Equal(t, "42", rec.ArticleID)
	assert.Equal(t, "hello", rec.Subject)
	assert.Equal(t, "body of 42", rec.Content)
	assert.Equal(t, []string{"first\x0ccomment", "second"}, rec.Comments)
	assert.Equal(t, "2025-01-02", rec.Date)
	assert.Equal(t, "https://cafe.naver.com/skincare/42?art=tok&from=m", rec.URL)
	assert.Equal(t, 1, f.count(first))
}

func TestResolveSearchHitTransportErrorNotRetried(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	page := cafe.PageURL("skincare", "42", "")
	f.pages[page] = fakePage{err: errors.New("connection reset")}

	e := newTestEngine(f, DefaultEngineConfig())
	_, err := e.Resolve(context.Background(), CrawlTarget{Shape: ShapeSearch, CollectionID: "skincare", ItemID: "42"})
	require.Error(t, err)
	assert.Equal(t, 1, f.count(page))
}

func TestResolveIsDeterministic(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	addSearchArticle(f, "cafe123", "555", "999", "art=k1", "a", "b\tc")
	e := newTestEngine(f, DefaultEngineConfig())
	target := CrawlTarget{Shape: ShapeSearch, CollectionID: "cafe123", ItemID: "999", AuthToken: "art=k1"}

	first, err := e.Resolve(context.Background(), target)
	require.NoError(t, err)
	second, err := e.Resolve(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, first.Line(), second.Line())
}

func TestResolveEmptyCommentThread(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.add(cafe.ArticleURL("1", "2", ""), articleJSON("2", "nick", "s"))
	f.add(cafe.CommentURL("1", "2", 1, "", false), commentsJSON())

	e := newTestEngine(f, DefaultEngineConfig())
	rec, err := e.Resolve(context.Background(), CrawlTarget{Shape: ShapeArticle, CollectionID: "1", ItemID: "2"})
	require.NoError(t, err)
	assert.Empty(t, rec.Comments)
	assert.Equal(t, "https://cafe.naver.com/nick/2", rec.URL)
	assert.Len(t, f.urls("https://apis.naver.com/cafe-web/cafe-articleapi/v2/"), 1)
}

func TestResolveSkipsEmptyComments(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.add(cafe.ArticleURL("1", "2", ""), articleJSON("2", "nick", "s"))
	f.add(cafe.CommentURL("1", "2", 1, "", false), commentsJSON("", "nice", "  "))
	f.add(cafe.CommentURL("1", "2", 2, "", false), commentsJSON())

	e := newTestEngine(f, DefaultEngineConfig())
	rec, err := e.Resolve(context.Background(), CrawlTarget{Shape: ShapeArticle, CollectionID: "1", ItemID: "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"nice"}, rec.Comments)

	parsed, err := record.ParseLine(rec.Line())
	require.NoError(t, err)
	assert.Equal(t, rec.Comments, parsed.Comments)
}

func TestPopularUsesPopularCommentEndpoint(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.add(cafe.PopularListURL("100"), `<pre>{"message":{"result":{"cafeUrl":"skincare","articleList":[{"articleId":1,"subject":"a"},{"articleId":2,"subject":"b"},{"articleId":1,"subject":"a"}]}}}</pre>`)
	for _, id := range []string{"1", "2"} {
		f.add(cafe.PopularArticleURL("100", id), articleJSON(id, "skincare", "s"+id))
		f.add(cafe.CommentURL("100", id, 1, "", true), commentsJSON("c"))
		f.add(cafe.CommentURL("100", id, 2, "", true), commentsJSON())
	}

	e := newTestEngine(f, DefaultEngineConfig())
	sink := &memorySink{}
	stats, err := e.Run(context.Background(), ShapePopular, "100", "out.tsv", e.Popular(context.Background(), "100"), sink)
	require.NoError(t, err)
	require.Len(t, sink.records, 2)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Empty(t, f.urls("https://apis.naver.com/cafe-web/cafe-articleapi/v2/"))
	assert.Len(t, f.urls("https://article.cafe.naver.com/gw/v4/"), 4)
}

func TestRunDropsFailedTargetAndContinues(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.add(cafe.ArticleURL("1", "10", ""), "<html>not json</html>")
	f.add(cafe.ArticleURL("1", "11", ""), articleJSON("11", "nick", "ok"))
	f.add(cafe.CommentURL("1", "11", 1, "", false), commentsJSON())

	e := newTestEngine(f, DefaultEngineConfig())
	sink := &memorySink{}
	stats, err := e.Run(context.Background(), ShapeArticle, "1", "out.tsv", e.Articles("1", "10", "11", "11"), sink)
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	assert.Equal(t, int64(2), stats.Discovered)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(1), stats.Written)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.False(t, e.Progress().Running())
}

func TestRunCommentFailureDropsRecord(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.add(cafe.ArticleURL("1", "10", ""), articleJSON("10", "nick", "ok"))
	f.add(cafe.CommentURL("1", "10", 1, "", false), commentsJSON("one"))
	f.pages[cafe.CommentURL("1", "10", 2, "", false)] = fakePage{err: errors.New("timeout")}

	e := newTestEngine(f, DefaultEngineConfig())
	sink := &memorySink{}
	stats, err := e.Run(context.Background(), ShapeArticle, "1", "out.tsv", e.Articles("1", "10"), sink)
	require.NoError(t, err)
	assert.Empty(t, sink.records)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	e := newTestEngine(f, DefaultEngineConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &memorySink{}
	_, err := e.Run(ctx, ShapeArticle, "1", "out.tsv", e.Articles("1", "10", "11"), sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.records)
	assert.Empty(t, f.calls)
}

func TestRunSinkFailureAborts(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.add(cafe.ArticleURL("1", "10", ""), articleJSON("10", "nick", "ok"))
	f.add(cafe.CommentURL("1", "10", 1, "", false), commentsJSON())

	e := newTestEngine(f, DefaultEngineConfig())
	boom := errors.New("disk full")
	_, err := e.Run(context.Background(), ShapeArticle, "1", "out.tsv", e.Articles("1", "10"), &memorySink{err: boom})
	require.ErrorIs(t, err, boom)
}

func TestBlogCrawlAppliesContentPolicy(t *testing.T) {
	t.Parallel()

	page := func(links ...string) string {
		var b strings.Builder
		b.WriteString(`<html><body><div id="main_pack"><section><div><ul>`)
		for _, l := range links {
			fmt.Fprintf(&b, `<li><div><div></div><div><div></div><div><a href="https://blog.naver.com/%s">t</a></div></div></div></li>`, l)
		}
		b.WriteString(`</ul></div></section></div></body></html>`)
		return b.String()
	}
	post := func(text string) string {
		return `<html><body><div class="se-title-text">title</div><div class="se-main-container"><div>` + text + `</div></div></body></html>`
	}

	f := newFakeFetcher()
	// days=3 over 01..08 gives [01,04] and [05,08].
	f.add(blog.SearchURL("olive", "20250101", "20250104"), page("alice/1", "bob/2"))
	f.add(blog.SearchURL("olive", "20250105", "20250108"), page("alice/1"))
	f.add(blog.PostURL("alice", "1"), post("great toner"))
	f.add(blog.PostURL("bob", "2"), post("사무실 임대 문의"))

	e := newTestEngine(f, DefaultEngineConfig())
	sink := &memorySink{}
	stats, err := e.Run(context.Background(), ShapeBlog, "olive", "out.tsv", e.Blog(context.Background(), "olive", day("20250101"), day("20250108")), sink)
	require.NoError(t, err)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "1", rec.ArticleID)
	assert.Equal(t, "alice", rec.UserID)
	assert.Equal(t, "title", rec.Subject)
	assert.Equal(t, "great toner", rec.Content)
	assert.Equal(t, blog.PostURL("alice", "1"), rec.URL)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(1), stats.Duplicates)
	for _, c := range f.calls {
		assert.True(t, c.RequiresSession, c.URL)
	}
}

func TestPopularListFailureYieldsNothing(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	e := newTestEngine(f, DefaultEngineConfig())
	n := 0
	for range e.Popular(context.Background(), "100") {
		n++
	}
	assert.Zero(t, n)
	assert.Equal(t, int64(1), e.Progress().Snapshot().FailedPages)
}
