package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks decomposes, drops combining marks and recomposes. Chained
// transformers keep state, so each call gets its own.
func foldMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NormalizeGroupID canonicalises a group identifier: diacritics are folded
// and runs of whitespace collapse to one space, so "  Třída 3A " and
// "Trida 3A" address the same group. Case is kept.
func NormalizeGroupID(groupID string) string {
	if groupID == "" {
		return ""
	}
	folded, _, err := transform.String(foldMarks(), groupID)
	if err != nil {
		folded = groupID
	}
	return strings.Join(strings.Fields(folded), " ")
}
