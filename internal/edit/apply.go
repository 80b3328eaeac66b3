// Package edit turns a located match into new file content. Everything here is
// a pure transformation: no disk access, no history-log access.
package edit

import (
	"sort"
	"strings"

	"scribe/internal/match"
)

// Apply replaces text[m.Start:m.End] with replacement. The replacement is
// first translated to the dominant line ending of text so one file never
// mixes conventions.
func Apply(text string, m match.Result, replacement string) string {
	replacement = Convert(replacement, DetectLineEnding([]byte(text)))

	var sb strings.Builder
	sb.Grow(len(text) - (m.End - m.Start) + len(replacement))
	sb.WriteString(text[:m.Start])
	sb.WriteString(replacement)
	sb.WriteString(text[m.End:])
	return sb.String()
}

// ApplyAll replaces every match with replacement. Matches must not overlap.
func ApplyAll(text string, ms []match.Result, replacement string) string {
	if len(ms) == 1 {
		return Apply(text, ms[0], replacement)
	}

	sorted := make([]match.Result, len(ms))
	copy(sorted, ms)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	replacement = Convert(replacement, DetectLineEnding([]byte(text)))

	var sb strings.Builder
	last := 0
	for _, m := range sorted {
		sb.WriteString(text[last:m.Start])
		sb.WriteString(replacement)
		last = m.End
	}
	sb.WriteString(text[last:])
	return sb.String()
}
