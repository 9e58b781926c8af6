package indexer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// lineBreakHyphen matches a word split across a line break, as PDF and DOCX text
// often carries it: "main-\ntenance".
var lineBreakHyphen = regexp.MustCompile(`(\pL)-[ \t]*\r?\n[ \t]*(\pL)`)

// invisible runes that extractors leave inside words.
var invisible = map[rune]bool{
	'\u00ad': true, // soft hyphen
	'\u200b': true,
	'\u200c': true,
	'\u200d': true,
	'\u2060': true,
	'\ufeff': true,
}

// Preprocess normalizes extracted text for chunking: NFC composition, words rejoined
// across hyphenated line breaks, control and zero-width runes dropped, whitespace
// collapsed to single spaces.
func Preprocess(text string) string {
	text = norm.NFC.String(text)
	text = lineBreakHyphen.ReplaceAllString(text, "$1$2")
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case invisible[r], unicode.IsControl(r):
		default:
			if pendingSpace {
				b.WriteRune(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
