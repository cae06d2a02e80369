package types

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// diacriticStripper decomposes accented runes (NFD) and drops the
// resulting combining marks, folding "Kouassi Kouamé" to "kouassi
// kouame". Built per call: a transform.Chain keeps internal buffers
// between Transform calls, so one shared chain is not safe for
// concurrent use.
func diacriticStripper() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NormalizeName implements invariant 6: name_norm is a deterministic
// function of name (lowercased, diacritics stripped, internal
// whitespace collapsed, trimmed). Idempotent: NormalizeName(NormalizeName(s)) == NormalizeName(s).
func NormalizeName(name string) string {
	folded, _, err := transform.String(diacriticStripper(), name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)
	fields := strings.Fields(folded)
	return strings.Join(fields, " ")
}
