package history

import (
	"strings"
)

// SessionTrailer tags every commit made on behalf of a session so the session
// can be recovered from the log after a restart.
const SessionTrailer = "Scribe-Session"

const (
	revsStart  = "```git-revs"
	revsEnd    = "```"
	baseMarker = "(Base revision)"
	headLabel  = "HEAD"
)

// Compose builds the message of the first commit of a session.
func Compose(description, sessionID string) string {
	return withTrailer(strings.TrimSpace(description), sessionID)
}

// Update rewrites the message of a commit that is being amended with another
// edit. The message carries a git-revs list: prevID is the hash the commit had
// before this amend, so the list records every intermediate revision and the
// HEAD entry describes the newest edit.
//
//	Add parser
//
//	```git-revs
//	1f0c...  (Base revision)
//	9a2e...  Handle empty input
//	HEAD     Fix off-by-one
//	```
//
//	Scribe-Session: 7d9c...
func Update(current, description, prevID string) string {
	body, sessionID := stripTrailer(current)

	var before, after string
	var entries []string

	start := strings.Index(body, revsStart)
	end := -1
	if start >= 0 {
		if i := strings.Index(body[start+len(revsStart):], revsEnd); i >= 0 {
			end = start + len(revsStart) + i
		}
	}

	if end >= 0 {
		before = body[:start]
		after = body[end+len(revsEnd):]
		for _, line := range strings.Split(body[start+len(revsStart):end], "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, headLabel) {
				line = prevID + "  " + strings.TrimSpace(line[len(headLabel):])
			}
			entries = append(entries, line)
		}
	} else {
		before = body
		entries = []string{prevID + "  " + baseMarker}
	}

	if d := firstLine(description); d != "" {
		pad := len(prevID) - len(headLabel)
		if pad < 0 {
			pad = 0
		}
		entries = append(entries, headLabel+strings.Repeat(" ", pad)+"  "+d)
	}

	var sb strings.Builder
	if b := strings.TrimRight(before, "\n"); b != "" {
		sb.WriteString(b)
		sb.WriteString("\n\n")
	}
	sb.WriteString(revsStart)
	sb.WriteByte('\n')
	sb.WriteString(strings.Join(entries, "\n"))
	sb.WriteByte('\n')
	sb.WriteString(revsEnd)
	sb.WriteString(strings.TrimRight(after, "\n"))

	return withTrailer(sb.String(), sessionID)
}

// SessionOf returns the session id recorded in message, or "".
func SessionOf(message string) string {
	_, id := stripTrailer(message)
	return id
}

func withTrailer(body, sessionID string) string {
	body = strings.TrimRight(body, "\n")
	if sessionID == "" {
		return body + "\n"
	}
	trailer := SessionTrailer + ": " + sessionID + "\n"
	if body == "" {
		return trailer
	}
	return body + "\n\n" + trailer
}

func stripTrailer(message string) (body, sessionID string) {
	prefix := SessionTrailer + ":"
	lines := strings.Split(strings.TrimRight(message, "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			sessionID = strings.TrimSpace(line[len(prefix):])
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n"), sessionID
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
