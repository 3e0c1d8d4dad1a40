package preview

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/memohai/relay/internal/irc"
)

var httpURLPattern = regexp.MustCompile(`^https?://`)

// FirstLink returns the first whitespace-delimited token of text that starts with
// http:// or https:// once formatting codes are removed, or "" when there is
// none.
func FirstLink(text string) string {
	for _, word := range strings.Fields(irc.StripFormatting(text)) {
		if httpURLPattern.MatchString(word) {
			return word
		}
	}
	return ""
}

// IsHTTPURL reports whether s starts with an http or https scheme.
func IsHTTPURL(s string) bool {
	return httpURLPattern.MatchString(s)
}

const upperHex = "0123456789ABCDEF"

// EscapeHeader makes raw safe to send as a request target: control bytes,
// DEL and every non-ASCII rune are percent-encoded as UTF-8, and invalid
// UTF-8 sequences are dropped.
func EscapeHeader(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRuneInString(raw[i:])
		if r == utf8.RuneError && size <= 1 {
			i++
			continue
		}
		if r >= 0x20 && r < 0x7F {
			b.WriteByte(byte(r))
		} else {
			for j := i; j < i+size; j++ {
				c := raw[j]
				b.WriteByte('%')
				b.WriteByte(upperHex[c>>4])
				b.WriteByte(upperHex[c&0x0F])
			}
		}
		i += size
	}
	return b.String()
}
