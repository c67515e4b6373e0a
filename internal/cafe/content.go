package cafe

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	contentElementRE = regexp.MustCompile(`\[\[\[CONTENT-ELEMENT-\d+\]\]\]`)
	formFeedReplacer = strings.NewReplacer("\r", "\x0c", "\n", "\x0c", "\t", "\x0c", `\n`, "\x0c")
	commentReplacer  = strings.NewReplacer("\r", "\x0c", "\n", "\x0c", "\t", "\x0c")
	subjectReplacer  = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")
	invisibleRemover = strings.NewReplacer("\u200b", "", "\ufeff", "")
	stripPolicy      = bluemonday.StrictPolicy()
)

// CleanContent turns article body markup into single-line plain text.
func CleanContent(contentHTML string) string {
	s := strings.Join(strings.Fields(contentHTML), " ")
	s = html.UnescapeString(html.UnescapeString(s))
	s = contentElementRE.ReplaceAllString(s, "")
	// The strict policy drops every tag but re-escapes text.
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = formFeedReplacer.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	return invisibleRemover.Replace(s)
}

// CleanSubject flattens line breaks in a subject into spaces.
func CleanSubject(subject string) string {
	return strings.TrimSpace(subjectReplacer.Replace(subject))
}

// CleanComment trims a comment and marks its line breaks with form feeds.
func CleanComment(content string) string {
	return commentReplacer.Replace(strings.TrimSpace(content))
}
