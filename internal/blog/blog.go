// Package blog builds blog search requests and extracts posts from rendered
// blog pages.
package blog

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

const (
	searchAPI = "https://search.naver.com/search.naver?sm=tab_hty.top&ssc=tab.blog.all&query=%s&oquery=%s&nso=so%%3Ar%%2Cp%%3Afrom%sto%s"
	postView  = "https://blog.naver.com/PostView.naver?blogId=%s&logNo=%s&redirect=Dlog&widgetTypeCall=true&noTrackingCode=true&directAccess=false"

	// ParagraphSep joins the text fragments of a post body.
	ParagraphSep = "{nl}"

	linkXPath    = `//*[@id="main_pack"]/section/div[1]/ul/li/div/div[2]/div[2]/a/@href`
	bodyXPath    = `//div[contains(@class, 'se-main-container')]//div//text()[not(ancestor::style or ancestor::script)] | //div[contains(@class, 'se-main-container')]//div//img/@data-lazy-src`
	subjectXPath = `//*/table[2]/tbody/tr/td[2]/div//div/p/span/text()`
	// Newer editor layouts carry the title outside the legacy table.
	titleXPath = `//*[contains(@class, 'se-title-text')]//text()`
)

var (
	// ErrNoContent is returned when a post page carries no body text.
	ErrNoContent = errors.New("post has no content")
	// ErrParse is returned when a page cannot be parsed.
	ErrParse = errors.New("parse blog page")
)

// SearchURL returns the blog search page for keyword within [from, to] (YYYYMMDD).
func SearchURL(keyword, from, to string) string {
	q := url.QueryEscape(keyword)
	return fmt.Sprintf(searchAPI, q, q, from, to)
}

// PostURL returns the post view URL of one post.
func PostURL(blogID, logNo string) string {
	return fmt.Sprintf(postView, url.QueryEscape(blogID), url.QueryEscape(logNo))
}

// Link identifies one post found on a search page.
type Link struct {
	BlogID string
	LogNo  string
}

// ParseSearchLinks extracts the post links of a rendered search page.
func ParseSearchLinks(body []byte) ([]Link, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	nodes, err := htmlquery.QueryAll(doc, linkXPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	links := make([]Link, 0, len(nodes))
	for _, n := range nodes {
		if link, ok := parseLink(htmlquery.InnerText(n)); ok {
			links = append(links, link)
		}
	}
	return links, nil
}

func parseLink(href string) (Link, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return Link{}, false
	}
	parts := strings.Split(u.Path, "/")
	if len(parts) < 3 {
		return Link{}, false
	}
	blogID, logNo := parts[1], parts[len(parts)-1]
	if blogID == "" || logNo == "" {
		return Link{}, false
	}
	return Link{BlogID: blogID, LogNo: logNo}, true
}

// Post is the extracted content of one blog post.
type Post struct {
	Subject    string
	Paragraphs []string
}

// Content joins the paragraphs into a single body.
func (p Post) Content() string {
	return strings.Join(p.Paragraphs, ParagraphSep)
}

// ParsePost extracts the subject and body fragments of a rendered post page.
// Body fragments are the non-blank text of the editor container plus the
// source of its lazily loaded images, in document order.
func ParsePost(body []byte) (Post, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return Post{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	nodes, err := htmlquery.QueryAll(doc, bodyXPath)
	if err != nil {
		return Post{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	var paragraphs []string
	for _, n := range nodes {
		if text := strings.TrimSpace(htmlquery.InnerText(n)); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	if len(paragraphs) == 0 {
		return Post{}, ErrNoContent
	}
	return Post{Subject: firstText(doc, subjectXPath, titleXPath), Paragraphs: paragraphs}, nil
}

func firstText(doc *html.Node, exprs ...string) string {
	for _, expr := range exprs {
		nodes, err := htmlquery.QueryAll(doc, expr)
		if err != nil {
			continue
		}
		for _, n := range nodes {
			if text := strings.TrimSpace(htmlquery.InnerText(n)); text != "" {
				return text
			}
		}
	}
	return ""
}
