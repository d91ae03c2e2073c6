// Package textprep shapes free-text product fields into the plain text
// handed to the embedding service.
package textprep

import (
	"html"
	"regexp"
	"strings"
)

var markupTag = regexp.MustCompile(`<[^>]+>`)

// Normalize decodes HTML entities, replaces every markup tag with a space,
// collapses runs of Unicode whitespace to a single space and trims the
// result. Entities are decoded first, so encoded markup such as
// "&lt;b&gt;" is stripped as well. A lone '<' or '>' stays as text.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = html.UnescapeString(text)
	text = markupTag.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}
