// Package cafe holds the endpoint templates of the cafe platform and the pure
// functions that turn its payloads into crawl data.
package cafe

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	articleAPI        = "https://apis.naver.com/cafe-web/cafe-articleapi/v3/cafes/%s/articles/%s"
	popularArticleAPI = "https://article.cafe.naver.com/gw/v3/cafes/%s/articles/%s?query=&fromPopular=true&useCafeId=true&requestFrom=A"
	commentAPI        = "https://apis.naver.com/cafe-web/cafe-articleapi/v2/cafes/%s/articles/%s/comments/pages/%d?requestFrom=A&orderBy=asc"
	popularCommentAPI = "https://article.cafe.naver.com/gw/v4/cafes/%s/articles/%s/comments/pages/%d?requestFrom=A&orderBy=asc&fromPopular=true"
	popularListAPI    = "https://apis.naver.com/cafe-web/cafe2/WeeklyPopularArticleListV3.json?cafeId=%s&mobileWeb=true&adUnit=PC_CAFE_BOARD&ad=false"
	searchAPI         = "https://s.search.naver.com/p/cafe/48/search.naver?abt=&ac=1&aq=0&cafe_where=articleg&date_from=%s&date_option=8&date_to=%s&display=%d&m=0&nlu_query=&nx_and_query=&nx_search_query=&nx_sub_query=&prdtype=0&prmore=1&qdt=1&query=%s&qvt=1&spq=0&ssc=tab.cafe.all&st=rel&start=%d&stnm=date"
	articlePage       = "https://" + CanonicalHost + "/%s/%s"

	// CanonicalHost is the desktop cafe host.
	CanonicalHost = "cafe.naver.com"
	// MobileHost is the mobile variant search hits sometimes redirect to.
	MobileHost = "m.cafe.naver.com"
	// SearchPageSize is the number of hits per search page.
	SearchPageSize = 30
)

// ArticleURL returns the article API URL. A non-empty auth token is appended
// as the query string.
func ArticleURL(cafeID, articleID, authToken string) string {
	u := fmt.Sprintf(articleAPI, cafeID, articleID)
	if authToken != "" {
		u += "?" + authToken
	}
	return u
}

// PopularArticleURL returns the article URL used for popular-board entries.
func PopularArticleURL(cafeID, articleID string) string {
	return fmt.Sprintf(popularArticleAPI, cafeID, articleID)
}

// CommentURL returns the URL of one 1-based comment page. The popular variant
// is used when the article itself was served from the popular gateway.
func CommentURL(cafeID, articleID string, page int, authToken string, popular bool) string {
	if popular {
		return fmt.Sprintf(popularCommentAPI, cafeID, articleID, page)
	}
	u := fmt.Sprintf(commentAPI, cafeID, articleID, page)
	if authToken != "" {
		u += "&" + authToken
	}
	return u
}

// PopularListURL returns the weekly popular list of a cafe.
func PopularListURL(cafeID string) string {
	return fmt.Sprintf(popularListAPI, url.QueryEscape(cafeID))
}

// SearchURL returns one search page for keyword within [from, to] (YYYYMMDD).
// offset is 0-based; the endpoint counts from 1.
func SearchURL(keyword, from, to string, offset int) string {
	return fmt.Sprintf(searchAPI, from, to, SearchPageSize, url.QueryEscape(keyword), offset+1)
}

// PageURL returns the canonical article page URL, carrying the auth token if any.
func PageURL(cafe, articleID, authToken string) string {
	u := fmt.Sprintf(articlePage, cafe, articleID)
	if authToken != "" {
		u += "?" + authToken
	}
	return u
}

// IsPopularHost reports whether rawURL was served by the popular gateway.
func IsPopularHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Hostname(), "article")
}

// CanonicalPageURL rewrites a mobile article page URL to the desktop host.
// The second result is false when rawURL is not on the mobile host.
func CanonicalPageURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Hostname(), MobileHost) {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", false
	}
	canonical := fmt.Sprintf(articlePage, parts[0], parts[1])
	if u.RawQuery != "" {
		canonical += "?" + u.RawQuery
	}
	return canonical, true
}
