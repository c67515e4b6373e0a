package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"

	"github.com/PuerkitoBio/goquery"
)

// JSONSpan returns the bytes from the first '{' to the last '}'. Browser
// renders wrap JSON in markup and search endpoints wrap it in a callback.
func JSONSpan(body []byte) ([]byte, error) {
	start := bytes.IndexByte(body, '{')
	end := bytes.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return nil, ErrNoJSON
	}
	return body[start : end+1], nil
}

// DecodeJSON extracts and decodes the JSON object carried by body. A browser
// renders a JSON document inside a <pre> element, whose text is used when
// present. A decode that still fails is retried once on the unescaped text.
func DecodeJSON(body []byte, v any) error {
	if text, ok := preText(body); ok {
		body = text
	}
	span, err := JSONSpan(body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(span, v); err == nil {
		return nil
	}
	unescaped := html.UnescapeString(string(span))
	if err := json.Unmarshal([]byte(unescaped), v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func preText(body []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' || !bytes.Contains(trimmed, []byte("<pre")) {
		return nil, false
	}
	doc, err := Document(Response{Body: trimmed})
	if err != nil {
		return nil, false
	}
	pre := doc.Find("pre").First()
	if pre.Length() == 0 {
		return nil, false
	}
	return []byte(pre.Text()), true
}

// Document parses the response body into a queryable DOM.
func Document(resp Response) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", resp.Location(), err)
	}
	return doc, nil
}
