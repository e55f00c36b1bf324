package ranking

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases and strips diacritics so "Müller" and "muller"
// compare equal.
func normalizeText(value string) string {
	folded, _, err := transform.String(foldTransformer, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(folded)
}

// tokenize splits normalized text into comparable word tokens, dropping
// punctuation and single-character noise like standalone hyphens.
func tokenize(value string) []string {
	normalized := normalizeText(value)
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if field == "" {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

// tokenOverlap returns the fraction of want tokens present in have.
func tokenOverlap(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, token := range have {
		haveSet[token] = struct{}{}
	}
	matched := 0
	for _, token := range want {
		if _, ok := haveSet[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}
