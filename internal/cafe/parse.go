package cafe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/cafe-etl/internal/fetcher"
)

// ErrMalformed is returned when a payload lacks the structure it should carry.
var ErrMalformed = errors.New("malformed payload")

// searchHitSelector mirrors the result card layout: the title anchor sits in
// the first block of the second column of each list item.
const searchHitSelector = "body > li > div > div:nth-of-type(2) > div:nth-of-type(1) > a"

var clubIDRE = regexp.MustCompile(`g_sClubId = "(\d+)"`)

// ID accepts identifiers the API sends as either numbers or strings.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Article is the extracted detail of one article.
type Article struct {
	ArticleID string
	BoardID   string
	BoardName string
	UserID    string
	CafeName  string
	// CafeURL is the cafe's nickname, used in canonical page URLs.
	CafeURL   string
	ReadCount string
	Subject   string
	Content   string
	// Date is the UTC write date as YYYY-MM-DD.
	Date string
}

type articlePayload struct {
	Result *struct {
		ArticleID ID `json:"articleId"`
		Article   *struct {
			Menu struct {
				ID   ID     `json:"id"`
				Name string `json:"name"`
			} `json:"menu"`
			Writer struct {
				Nick string `json:"nick"`
			} `json:"writer"`
			ReadCount   ID     `json:"readCount"`
			Subject     string `json:"subject"`
			ContentHTML string `json:"contentHtml"`
			WriteDate   *ID    `json:"writeDate"`
		} `json:"article"`
		Cafe struct {
			PCCafeName string `json:"pcCafeName"`
			URL        string `json:"url"`
		} `json:"cafe"`
	} `json:"result"`
}

// ParseArticle extracts an article from an article API response body.
func ParseArticle(body []byte) (Article, error) {
	var payload articlePayload
	if err := fetcher.DecodeJSON(body, &payload); err != nil {
		return Article{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	res := payload.Result
	if res == nil || res.Article == nil || res.ArticleID == "" {
		return Article{}, fmt.Errorf("%w: article result missing", ErrMalformed)
	}
	if res.Article.WriteDate == nil {
		return Article{}, fmt.Errorf("%w: write date missing", ErrMalformed)
	}
	date, err := writeDate(string(*res.Article.WriteDate))
	if err != nil {
		return Article{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	art := res.Article
	return Article{
		ArticleID: string(res.ArticleID),
		BoardID:   string(art.Menu.ID),
		BoardName: strings.TrimSpace(art.Menu.Name),
		UserID:    art.Writer.Nick,
		CafeName:  res.Cafe.PCCafeName,
		CafeURL:   res.Cafe.URL,
		ReadCount: string(art.ReadCount),
		Subject:   CleanSubject(art.Subject),
		Content:   CleanContent(art.ContentHTML),
		Date:      date,
	}, nil
}

// writeDate converts epoch milliseconds to a UTC calendar day. Sub-second
// precision is discarded.
func writeDate(ms string) (string, error) {
	if len(ms) <= 3 {
		return "", fmt.Errorf("write date %q too short", ms)
	}
	secs, err := strconv.ParseInt(ms[:len(ms)-3], 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse write date: %w", err)
	}
	return time.Unix(secs, 0).UTC().Format(time.DateOnly), nil
}

// Comment is one entry of a comment page.
type Comment struct {
	ID      string
	Content string
}

type commentPayload struct {
	Result *struct {
		Comments *struct {
			Items []struct {
				ID      ID     `json:"id"`
				Content string `json:"content"`
			} `json:"items"`
		} `json:"comments"`
	} `json:"result"`
}

// ParseComments extracts the comments of one page. An empty page is not an error.
func ParseComments(body []byte) ([]Comment, error) {
	var payload commentPayload
	if err := fetcher.DecodeJSON(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if payload.Result == nil || payload.Result.Comments == nil {
		return nil, fmt.Errorf("%w: comment result missing", ErrMalformed)
	}
	items := payload.Result.Comments.Items
	comments := make([]Comment, 0, len(items))
	for _, item := range items {
		comments = append(comments, Comment{ID: string(item.ID), Content: CleanComment(item.Content)})
	}
	return comments, nil
}

// PopularEntry is one article of the weekly popular list.
type PopularEntry struct {
	ArticleID string
	Subject   string
}

type popularPayload struct {
	Message *struct {
		Result *struct {
			CafeURL     string `json:"cafeUrl"`
			ArticleList []struct {
				ArticleID ID     `json:"articleId"`
				Subject   string `json:"subject"`
			} `json:"articleList"`
		} `json:"result"`
	} `json:"message"`
}

// ParsePopularList returns the cafe nickname and the listed articles.
func ParsePopularList(body []byte) (string, []PopularEntry, error) {
	var payload popularPayload
	if err := fetcher.DecodeJSON(body, &payload); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if payload.Message == nil || payload.Message.Result == nil {
		return "", nil, fmt.Errorf("%w: popular list missing", ErrMalformed)
	}
	res := payload.Message.Result
	entries := make([]PopularEntry, 0, len(res.ArticleList))
	for _, a := range res.ArticleList {
		if a.ArticleID == "" {
			continue
		}
		entries = append(entries, PopularEntry{ArticleID: string(a.ArticleID), Subject: a.Subject})
	}
	return res.CafeURL, entries, nil
}

// SearchHit is one article surfaced by the search endpoint.
type SearchHit struct {
	// Cafe is the cafe nickname from the hit's link.
	Cafe      string
	ArticleID string
	// AuthToken is the query string of the hit's link.
	AuthToken string
	Title     string
}

// Key returns the hit's deduplication key.
func (h SearchHit) Key() string {
	return h.Cafe + "-" + h.ArticleID
}

type searchPayload struct {
	Collection []struct {
		HTML string `json:"html"`
	} `json:"collection"`
}

// ParseSearchHits extracts the hits of one search page. A page without a
// result collection yields no hits.
func ParseSearchHits(body []byte) ([]SearchHit, error) {
	var payload searchPayload
	if err := fetcher.DecodeJSON(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(payload.Collection) == 0 {
		return nil, nil
	}
	fragment := strings.TrimSpace(payload.Collection[0].HTML)
	if fragment == "" {
		return nil, nil
	}
	doc, err := fetcher.Document(fetcher.Response{Body: []byte(fragment)})
	if err != nil {
		return nil, fmt.Errorf("%w: parse search fragment: %w", ErrMalformed, err)
	}

	var hits []SearchHit
	doc.Find(searchHitSelector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		hit, ok := parseHitLink(href)
		if !ok {
			return
		}
		hit.Title = strings.Join(strings.Fields(a.Text()), " ")
		hits = append(hits, hit)
	})
	return hits, nil
}

func parseHitLink(href string) (SearchHit, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return SearchHit{}, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SearchHit{}, false
	}
	return SearchHit{Cafe: parts[0], ArticleID: parts[1], AuthToken: u.RawQuery}, true
}

// ExtractClubID returns the numeric cafe id embedded in an article page.
func ExtractClubID(body []byte) (string, error) {
	m := clubIDRE.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("%w: club id not found", ErrMalformed)
	}
	return string(m[1]), nil
}
