package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// basicTokenizer turns text into whitespace-delimited words before WordPiece.
type basicTokenizer struct {
	lower        bool
	stripAccents bool
	splitPunct   bool
}

func newBasicTokenizer(cfg Config) basicTokenizer {
	return basicTokenizer{
		lower:        cfg.DoLowerCase,
		stripAccents: cfg.StripAccents,
		splitPunct:   cfg.TokenizePunctuation,
	}
}

func (b basicTokenizer) words(text string) []string {
	if b.lower {
		text = strings.ToLower(text)
	}
	if b.stripAccents {
		text = stripAccents(text)
	}
	if b.splitPunct {
		text = spacePunctuation(text)
	}
	// Fields collapses runs of whitespace and trims both ends.
	return strings.Fields(text)
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func spacePunctuation(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		if isPunctuation(r) {
			sb.WriteByte(' ')
			sb.WriteRune(r)
			sb.WriteByte(' ')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// isPunctuation treats all non-alphanumeric ASCII as punctuation, like BERT,
// so characters such as "^" and "$" are split even though Unicode does not
// class them as P*.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
