// Package highlight decides whether a message body mentions the local user.
package highlight

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/memohai/relay/internal/irc"
)

// Detector matches casefolded highlight terms on word boundaries. A Detector
// is immutable; build a new one when the nickname changes.
type Detector struct {
	terms []string
}

// New builds a detector for nick plus any extra highlight words. Blank terms
// are ignored.
func New(nick string, extra ...string) *Detector {
	d := &Detector{terms: make([]string, 0, len(extra)+1)}
	seen := map[string]struct{}{}
	for _, term := range append([]string{nick}, extra...) {
		folded := irc.Casefold(strings.TrimSpace(term))
		if folded == "" {
			continue
		}
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		d.terms = append(d.terms, folded)
	}
	return d
}

// Terms returns the casefolded terms the detector looks for.
func (d *Detector) Terms() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.terms...)
}

// Match reports whether text mentions any term.
func (d *Detector) Match(text string) bool {
	if d == nil || len(d.terms) == 0 || text == "" {
		return false
	}
	folded := irc.Casefold(text)
	for _, term := range d.terms {
		if containsWord(folded, term) {
			return true
		}
	}
	return false
}

func containsWord(text, word string) bool {
	for start := 0; start < len(text); {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return false
		}
		at := start + i
		left, _ := utf8.DecodeLastRuneInString(text[:at])
		right, _ := utf8.DecodeRuneInString(text[at+len(word):])
		if isWordBoundary(left) && isWordBoundary(right) {
			return true
		}
		// Step one rune so overlapping candidates are still seen.
		_, size := utf8.DecodeRuneInString(text[at:])
		start = at + size
	}
	return false
}

// isWordBoundary reports whether r separates words. The start and end of the
// text decode to utf8.RuneError and count as boundaries.
func isWordBoundary(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}
