package forms

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// deaccent strips combining marks so "endereço" and "endereco" collapse
// to the same field name.
var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeField canonicalizes a user-supplied field name: accents
// removed, lowercased, runs of whitespace collapsed to underscores.
// Field identity everywhere in the system is the normalized name.
func NormalizeField(name string) string {
	s, _, err := transform.String(deaccent, strings.TrimSpace(name))
	if err != nil {
		s = strings.TrimSpace(name)
	}
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), "_")
}

// NormalizeFields normalizes every name and drops duplicates while
// preserving first-seen order.
func NormalizeFields(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		f := NormalizeField(n)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
