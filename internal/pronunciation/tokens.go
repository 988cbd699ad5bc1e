package pronunciation

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FuzzyThreshold is the similarity at which two words count as the same
// word for alignment.
const FuzzyThreshold = 0.7

// trimSet is stripped from both ends of every token.
const trimSet = ".,!?;:"

// Tokenize splits text on whitespace, lower-cases each token using the
// casing rules of tag, strips leading and trailing punctuation and drops
// empty tokens.
func Tokenize(text string, tag language.Tag) []string {
	lower := cases.Lower(tag)
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.Trim(lower.String(f), trimSet)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Distance is the Levenshtein distance between a and b, counted in runes.
func Distance(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// Similarity returns 1 - distance/max(len) in runes; 1.0 when both are empty.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(Distance(a, b))/float64(longest)
}

// FuzzyEqual reports whether a and b are equal or at least
// [FuzzyThreshold] similar. Empty words never match.
func FuzzyEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || Similarity(a, b) >= FuzzyThreshold
}
