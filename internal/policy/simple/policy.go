// Package simple contains a keyword-based content policy.
package simple

import "strings"

// DefaultForbidden lists the words that reject a blog post by default.
var DefaultForbidden = []string{"부동산", "임대", "사무실", "쇼핑몰"}

// Policy rejects content that contains any forbidden word.
type Policy struct {
	forbidden []string
}

// New creates a new Policy. Empty words are ignored.
func New(forbidden []string) *Policy {
	words := make([]string, 0, len(forbidden))
	for _, w := range forbidden {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return &Policy{forbidden: words}
}

// Match returns the first forbidden word found in texts.
func (p *Policy) Match(texts ...string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, text := range texts {
		for _, w := range p.forbidden {
			if strings.Contains(text, w) {
				return w, true
			}
		}
	}
	return "", false
}
