package logging

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxSanitizedLength bounds the runes kept by Sanitize.
const maxSanitizedLength = 100

// Sanitize makes a client-supplied string safe to interpolate into a log
// line. Control and non-printable characters are escaped Go-style and long
// values are truncated.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if n == maxSanitizedLength {
			b.WriteString("...[truncated]")
			break
		}
		n++
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == utf8.RuneError, unicode.IsControl(r), !unicode.IsPrint(r):
			q := strconv.QuoteRuneToASCII(r)
			b.WriteString(q[1 : len(q)-1])
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
