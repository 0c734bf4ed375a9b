// Package nlp turns free-form command text into (intent, confidence,
// parameters) triples using phrase-pattern tables. Matching is
// deterministic: the same text always produces the same result.
package nlp

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	foldCaser = cases.Fold()

	// stripMarks removes diacritics so "mámá" and "mama" tokenize alike.
	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Normalize case-folds and strips diacritic marks.
func Normalize(text string) string {
	stripped, _, err := transform.String(stripMarks, text)
	if err != nil {
		stripped = text
	}
	return foldCaser.String(stripped)
}

// Tokenize splits normalized text into words. Surrounding punctuation is
// trimmed except on URL-looking tokens, which stay intact.
func Tokenize(text string) []string {
	fields := strings.Fields(Normalize(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if !strings.Contains(f, "://") {
			f = strings.Trim(f, ".,!?;:\"'()")
		}
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
