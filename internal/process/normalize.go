package process

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy  = bluemonday.StrictPolicy()
	wsRe         = regexp.MustCompile(`\s+`)
	bangRunRe    = regexp.MustCompile(`!{2,}`)
	qmarkRunRe   = regexp.MustCompile(`\?{2,}`)
	ellipsisRe   = regexp.MustCompile(`\.{3,}`)
	controlRunRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]+`)
)

// NormalizeText strips HTML tags, decodes character entities, and collapses
// whitespace runs. Aggressive mode also collapses repeated punctuation.
func NormalizeText(text string, aggressive bool) string {
	text = stripPolicy.Sanitize(text)
	text = html.UnescapeString(text)
	text = controlRunRe.ReplaceAllString(text, " ")
	text = wsRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if aggressive {
		text = bangRunRe.ReplaceAllString(text, "!")
		text = qmarkRunRe.ReplaceAllString(text, "?")
		text = ellipsisRe.ReplaceAllString(text, "…")
	}
	return text
}
