package edit

import (
	"fmt"
	"strings"
)

// Snippet renders the lines around an edit with 1-based line numbers, so the
// caller can confirm what the file looks like now. start is the offset of
// the replacement inside text and length its size.
func Snippet(text string, start, length, context int) string {
	if start > len(text) {
		start = len(text)
	}
	end := start + length
	if end > len(text) {
		end = len(text)
	}

	firstLine := strings.Count(text[:start], "\n")
	lastLine := firstLine + strings.Count(text[start:end], "\n")

	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	from := max(0, firstLine-context)
	to := min(len(lines)-1, lastLine+context)

	var sb strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	return sb.String()
}
