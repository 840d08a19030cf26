package handler

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxMessageRunes caps each message after sanitization.
const MaxMessageRunes = 500

var strict = bluemonday.StrictPolicy()

// Sanitize strips markup, collapses whitespace runs to one space, trims and
// truncates to MaxMessageRunes.
func Sanitize(s string) string {
	// StrictPolicy 会转义剩余文本，这里还原为原始字符
	s = html.UnescapeString(strict.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > MaxMessageRunes {
		s = string(r[:MaxMessageRunes])
	}
	return s
}
