// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
	"strings"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType `json:"type"`
	Content string   `json:"content"`
	OldNum  int      `json:"old_num,omitempty"`
	NewNum  int      `json:"new_num,omitempty"`
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk `json:"hunks"`
	Stats Stats  `json:"stats"`
}

type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Changes   int `json:"changes"`
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Lines    []Line `json:"lines"`
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{contextLines: contextLines}
}

// Diff generates a line-by-line diff between two contents. The common prefix
// and suffix are skipped before the LCS table is built, so a local edit in a
// large file stays cheap.
func (e *Engine) Diff(oldContent, newContent []byte) *DiffResult {
	a := splitLines(oldContent)
	b := splitLines(newContent)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && bytes.Equal(a[prefix], b[prefix]) {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		bytes.Equal(a[len(a)-1-suffix], b[len(b)-1-suffix]) {
		suffix++
	}

	script := make([]Line, 0, len(a)+len(b))
	for i := 0; i < prefix; i++ {
		script = append(script, Line{Type: Context, Content: string(a[i]), OldNum: i + 1, NewNum: i + 1})
	}
	script = append(script, middle(a[prefix:len(a)-suffix], b[prefix:len(b)-suffix], prefix, prefix)...)
	for k := suffix; k > 0; k-- {
		i, j := len(a)-k, len(b)-k
		script = append(script, Line{Type: Context, Content: string(a[i]), OldNum: i + 1, NewNum: j + 1})
	}

	result := &DiffResult{Hunks: e.group(script)}
	for _, l := range script {
		switch l.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions
	return result
}

// Empty reports whether the contents were identical.
func (r *DiffResult) Empty() bool {
	return r.Stats.Changes == 0
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

// middle diffs the differing region with an LCS table built from the end so
// the script can be read off front to back. Deletions come before additions.
func middle(a, b [][]byte, oldOff, newOff int) []Line {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(a[i], b[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var out []Line
	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && bytes.Equal(a[i], b[j]):
			out = append(out, Line{Type: Context, Content: string(a[i]), OldNum: oldOff + i + 1, NewNum: newOff + j + 1})
			i++
			j++
		case i < n && (j == m || lcs[i+1][j] >= lcs[i][j+1]):
			out = append(out, Line{Type: Deletion, Content: string(a[i]), OldNum: oldOff + i + 1})
			i++
		default:
			out = append(out, Line{Type: Addition, Content: string(b[j]), NewNum: newOff + j + 1})
			j++
		}
	}
	return out
}

// group cuts the script into hunks, merging changes separated by no more
// than twice the context size.
func (e *Engine) group(script []Line) []Hunk {
	var hunks []Hunk

	for i := 0; i < len(script); {
		if script[i].Type == Context {
			i++
			continue
		}

		start := max(0, i-e.contextLines)
		end := i
		for k := i + 1; k < len(script); k++ {
			if script[k].Type == Context {
				continue
			}
			if k-end-1 > 2*e.contextLines {
				break
			}
			end = k
		}
		stop := min(len(script), end+e.contextLines+1)

		hunks = append(hunks, newHunk(script, start, stop))
		i = stop
	}
	return hunks
}

func newHunk(script []Line, start, stop int) Hunk {
	h := Hunk{Lines: append([]Line(nil), script[start:stop]...)}

	// Line numbers of the first old and new line at or after start.
	oldBefore, newBefore := 0, 0
	for _, l := range script[:start] {
		if l.Type != Addition {
			oldBefore++
		}
		if l.Type != Deletion {
			newBefore++
		}
	}
	for _, l := range h.Lines {
		if l.Type != Addition {
			h.OldLines++
		}
		if l.Type != Deletion {
			h.NewLines++
		}
	}

	h.OldStart, h.NewStart = oldBefore, newBefore
	if h.OldLines > 0 {
		h.OldStart++
	}
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}

// Format renders the result as unified-diff hunks.
func (r *DiffResult) Format() string {
	var buf strings.Builder

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteByte('+')
			case Deletion:
				buf.WriteByte('-')
			default:
				buf.WriteByte(' ')
			}
			buf.WriteString(line.Content)
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}
