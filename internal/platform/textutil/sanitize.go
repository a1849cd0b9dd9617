package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from user supplied text, collapses whitespace and
// truncates the result to limit runes. A limit of zero keeps the full text.
func PlainText(value string, limit int) string {
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:limit]))
	}
	return cleaned
}
