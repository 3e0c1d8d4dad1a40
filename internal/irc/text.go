// Package irc holds the protocol text rules shared by the routing pipeline:
// nickname casefolding and removal of mIRC formatting codes.
package irc

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	formattingPattern = regexp.MustCompile(`\x02|\x1D|\x1F|\x16|\x0F|\x03(?:[0-9]{1,2}(?:,[0-9]{1,2})?)?`)
	controlPattern    = regexp.MustCompile(`\x03(?:[0-9]{1,2}(?:,[0-9]{1,2})?)?|[\x00-\x1F]|\x7F`)
)

// Casefold lowers s using rfc1459 casemapping, where []\~ are the uppercase
// forms of {}|^. Non-ASCII runes are lowered with unicode rules.
func Casefold(s string) string {
	return strings.Map(foldRune, s)
}

func foldRune(r rune) rune {
	switch {
	case r >= 'A' && r <= 'Z':
		return r + ('a' - 'A')
	case r == '[':
		return '{'
	case r == ']':
		return '}'
	case r == '\\':
		return '|'
	case r == '~':
		return '^'
	case r < 0x80:
		return r
	default:
		return unicode.ToLower(r)
	}
}

// EqualFold reports whether a and b name the same nick or channel.
func EqualFold(a, b string) bool {
	return Casefold(a) == Casefold(b)
}

// StripFormatting removes bold, italic, underline, reverse, reset and color
// codes, leaving every other byte in place.
func StripFormatting(s string) string {
	return formattingPattern.ReplaceAllString(s, "")
}

// StripControl removes color codes and every C0 control byte plus DEL, then
// trims surrounding whitespace.
func StripControl(s string) string {
	return strings.TrimSpace(controlPattern.ReplaceAllString(s, ""))
}
