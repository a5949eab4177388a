// Package textnorm folds names and contact fields into comparable keys.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s, strips diacritics and collapses whitespace, so
// "  JOÃO  da Conceição" becomes "joao da conceicao".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Digits keeps only ASCII digits, e.g. for CPF and phone numbers.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NumericQuery returns the digits of q when q is a CPF or phone number as
// people type it: digits plus ".-()/" punctuation and spaces, at least three
// digits long.
func NumericQuery(q string) (string, bool) {
	for _, r := range q {
		if (r < '0' || r > '9') && !strings.ContainsRune(".-()/ ", r) {
			return "", false
		}
	}
	d := Digits(q)
	return d, len(d) >= 3
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// LikeContains builds a LIKE pattern matching s anywhere. Wildcards in s are
// escaped with a backslash, the default LIKE escape character.
func LikeContains(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// Phone normalizes a Brazilian phone number to its digits without the
// country code.
func Phone(s string) string {
	d := Digits(s)
	if len(d) > 11 && strings.HasPrefix(d, "55") {
		d = d[2:]
	}
	return d
}

// Email trims and lower-cases an address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
