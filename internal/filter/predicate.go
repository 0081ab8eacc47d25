// Package filter compiles per-session content patterns into predicates.
package filter

import (
	"regexp"
	"strings"

	"github.com/stream-pulse/pulse/internal/event"
)

// Predicate decides whether an event is relevant to a session. A Predicate
// is immutable once compiled; changing the filter means compiling a new one
// and swapping it in. The nil *Predicate matches everything.
type Predicate struct {
	pattern string
	re      *regexp.Regexp
	valid   bool
}

var matchAll = &Predicate{valid: true}

// MatchAll returns the predicate new sessions start with.
func MatchAll() *Predicate { return matchAll }

// Compile builds a case-insensitive regular expression predicate over the
// event text. Compile never fails: an empty pattern, or one that is not a
// valid expression, yields a predicate that matches every event. Valid
// reports which of the two happened.
func Compile(pattern string) *Predicate {
	if strings.TrimSpace(pattern) == "" {
		return &Predicate{pattern: pattern, valid: true}
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return &Predicate{pattern: pattern}
	}
	return &Predicate{pattern: pattern, re: re, valid: true}
}

// Matches reports whether ev satisfies the predicate.
func (p *Predicate) Matches(ev event.Event) bool {
	if p == nil || p.re == nil {
		return true
	}
	return p.re.MatchString(ev.Text)
}

// Pattern returns the source pattern as supplied by the client.
func (p *Predicate) Pattern() string {
	if p == nil {
		return ""
	}
	return p.pattern
}

// Valid is false when the pattern failed to compile and the predicate
// fell back to matching everything.
func (p *Predicate) Valid() bool {
	return p == nil || p.valid
}

// IsMatchAll reports whether the predicate accepts every event.
func (p *Predicate) IsMatchAll() bool {
	return p == nil || p.re == nil
}
