// Package normalize canonicalises menu item names so that catalog entries,
// user queries and LLM replies compare on the same footing.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	addonWord  = regexp.MustCompile(`\baddon\b`)
	millilitre = regexp.MustCompile(`\b\d+\s*ml\b`)
)

// Name lowercases s, applies NFKC, replaces every non-alphanumeric rune with
// a space and collapses runs of whitespace.
func Name(s string) string {
	s = norm.NFKC.String(strings.ToLower(s))
	return collapse(nonAlnum.ReplaceAllString(s, " "))
}

// Input is Name plus removal of the "addon" keyword and volume suffixes such
// as "250ml" or "500 ml", which appear on POS child menus but never in the
// master catalog. Input(Input(s)) == Input(s).
func Input(s string) string {
	s = Name(s)
	// A removal can expose a new "<n> ml" pair ("5 addon ml"), so strip until
	// nothing changes. Each pass that changes s makes it shorter.
	for {
		next := collapse(millilitre.ReplaceAllString(addonWord.ReplaceAllString(s, ""), ""))
		if next == s {
			return s
		}
		s = next
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
