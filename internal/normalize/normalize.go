// Package normalize canonicalizes whitespace for comparison purposes only.
// Stored content is never rewritten here; every normalized byte remembers the
// span of original bytes it stands for so matches can be mapped back.
package normalize

import (
	"fmt"
	"strings"
)

// Tier is one level of whitespace-matching strictness, ordered strictest first.
type Tier int

const (
	Exact Tier = iota + 1
	TrailingSpace
	SpaceRuns
	LineTrim
)

var tierNames = map[Tier]string{
	Exact:         "exact",
	TrailingSpace: "trailing-whitespace",
	SpaceRuns:     "whitespace-runs",
	LineTrim:      "line-trim",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// MarshalText lets tiers show up by name in JSON responses.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	for tier, name := range tierNames {
		if name == string(b) {
			*t = tier
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", string(b))
}

// Tiers returns every tier from strictest to loosest.
func Tiers() []Tier {
	return []Tier{Exact, TrailingSpace, SpaceRuns, LineTrim}
}

// Text is a normalized string. Starts[i] and Ends[i] give the original byte
// range that produced Value[i]; a collapsed whitespace run maps to the whole run.
type Text struct {
	Value  string
	Starts []int
	Ends   []int
	// Len is the length of the original string.
	Len int
}

// Span maps the normalized range [ns, ne) to the original byte range.
func (t Text) Span(ns, ne int) (int, int) {
	if ns >= len(t.Starts) {
		return t.Len, t.Len
	}
	if ne <= ns {
		return t.Starts[ns], t.Starts[ns]
	}
	return t.Starts[ns], t.Ends[ne-1]
}

// IsBlank reports whether b is a space or a tab. Newlines are never blank.
func IsBlank(b byte) bool {
	return b == ' ' || b == '\t'
}

// Normalize applies tier to s.
func Normalize(s string, tier Tier) Text {
	n := &builder{
		starts: make([]int, 0, len(s)),
		ends:   make([]int, 0, len(s)),
	}
	n.sb.Grow(len(s))

	ls := 0
	for ls <= len(s) {
		le := strings.IndexByte(s[ls:], '\n')
		if le < 0 {
			le = len(s)
		} else {
			le += ls
		}

		n.line(s, ls, le, tier)

		if le == len(s) {
			break
		}
		n.emit('\n', le, le+1)
		ls = le + 1
	}

	return Text{
		Value:  n.sb.String(),
		Starts: n.starts,
		Ends:   n.ends,
		Len:    len(s),
	}
}

type builder struct {
	sb     strings.Builder
	starts []int
	ends   []int
}

func (n *builder) emit(b byte, start, end int) {
	n.sb.WriteByte(b)
	n.starts = append(n.starts, start)
	n.ends = append(n.ends, end)
}

func (n *builder) verbatim(s string, from, to int) {
	for i := from; i < to; i++ {
		n.emit(s[i], i, i+1)
	}
}

// collapse copies s[from:to] replacing each blank run with a single space.
func (n *builder) collapse(s string, from, to int) {
	for i := from; i < to; {
		if !IsBlank(s[i]) {
			n.emit(s[i], i, i+1)
			i++
			continue
		}
		j := i
		for j < to && IsBlank(s[j]) {
			j++
		}
		n.emit(' ', i, j)
		i = j
	}
}

func (n *builder) line(s string, ls, le int, tier Tier) {
	if tier == Exact {
		n.verbatim(s, ls, le)
		return
	}

	lead := ls
	for lead < le && IsBlank(s[lead]) {
		lead++
	}
	trail := le
	for trail > lead && IsBlank(s[trail-1]) {
		trail--
	}

	switch tier {
	case TrailingSpace:
		if lead == trail {
			return
		}
		n.verbatim(s, ls, trail)
	case SpaceRuns:
		if lead == trail {
			return
		}
		n.verbatim(s, ls, lead)
		n.collapse(s, lead, trail)
	case LineTrim:
		n.collapse(s, lead, trail)
	default:
		n.verbatim(s, ls, le)
	}
}
