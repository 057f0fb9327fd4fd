package commands

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrDuplicatePlaceholder is returned by Compile when a phrase names the
// same placeholder twice.
var ErrDuplicatePlaceholder = errors.New("duplicate placeholder")

// segment is one piece of a compiled phrase: either literal text or a
// named capture slot.
type segment struct {
	literal string
	slot    string
}

func (s segment) isSlot() bool { return s.slot != "" }

// Pattern is a compiled template phrase. Literal text is matched
// case-insensitively; each {name} slot captures one or more characters,
// as many as possible while the rest of the phrase still matches. A
// pattern must consume the whole utterance.
type Pattern struct {
	phrase   string
	segments []segment
	names    []string
}

// Compile parses phrase into a Pattern. A "{" that does not start a
// well-formed {name} (letters, digits, underscore) is kept as literal
// text.
func Compile(phrase string) (*Pattern, error) {
	p := &Pattern{phrase: phrase}
	seen := make(map[string]bool)

	var lit strings.Builder
	rest := strings.ToLower(phrase)
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			lit.WriteString(rest)
			break
		}
		lit.WriteString(rest[:open])
		rest = rest[open:]

		name, n := placeholderAt(rest)
		if n == 0 {
			lit.WriteByte('{')
			rest = rest[1:]
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("%w %q in %q", ErrDuplicatePlaceholder, name, phrase)
		}
		seen[name] = true

		if lit.Len() > 0 {
			p.segments = append(p.segments, segment{literal: lit.String()})
			lit.Reset()
		}
		p.segments = append(p.segments, segment{slot: name})
		p.names = append(p.names, name)
		rest = rest[n:]
	}
	if lit.Len() > 0 {
		p.segments = append(p.segments, segment{literal: lit.String()})
	}
	return p, nil
}

// placeholderAt parses a {name} at the start of s and returns the name
// and the number of bytes consumed, or 0 if s does not start with one.
func placeholderAt(s string) (string, int) {
	end := strings.IndexByte(s, '}')
	if end < 2 {
		return "", 0
	}
	name := s[1:end]
	for _, r := range name {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", 0
		}
	}
	return name, end + 1
}

// Phrase returns the phrase the pattern was compiled from.
func (p *Pattern) Phrase() string { return p.phrase }

// Names returns the placeholder names in phrase order.
func (p *Pattern) Names() []string { return p.names }

// HasPlaceholders reports whether the phrase has any capture slots.
func (p *Pattern) HasPlaceholders() bool { return len(p.names) > 0 }

// Match reports whether utterance matches the whole pattern and returns
// the captured values keyed by placeholder name. Literal phrases yield
// an empty, non-nil map on success.
func (p *Pattern) Match(utterance string) (map[string]string, bool) {
	u := strings.ToLower(utterance)
	if !p.HasPlaceholders() {
		if len(p.segments) == 0 {
			return map[string]string{}, u == ""
		}
		return map[string]string{}, u == p.segments[0].literal
	}

	bound := make(map[string]string, len(p.names))
	if !matchSegments(p.segments, u, bound) {
		return nil, false
	}
	return bound, true
}

// matchSegments matches segs against the whole of s, recording slot
// captures in bound. Slots try the longest capture first and back off
// one rune at a time, which gives leftmost slots priority.
func matchSegments(segs []segment, s string, bound map[string]string) bool {
	if len(segs) == 0 {
		return s == ""
	}

	seg := segs[0]
	if !seg.isSlot() {
		if !strings.HasPrefix(s, seg.literal) {
			return false
		}
		return matchSegments(segs[1:], s[len(seg.literal):], bound)
	}

	// A trailing slot takes everything that is left.
	if len(segs) == 1 {
		if s == "" {
			return false
		}
		bound[seg.slot] = s
		return true
	}

	for end := len(s); end > 0; {
		if matchSegments(segs[1:], s[end:], bound) {
			bound[seg.slot] = s[:end]
			return true
		}
		_, size := utf8.DecodeLastRuneInString(s[:end])
		end -= size
	}
	delete(bound, seg.slot)
	return false
}
