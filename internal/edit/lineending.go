package edit

import (
	"bytes"
	"strings"
)

type LineEnding string

const (
	LF   LineEnding = "LF"
	CRLF LineEnding = "CRLF"
)

// Sequence returns the bytes written for a newline.
func (le LineEnding) Sequence() string {
	if le == CRLF {
		return "\r\n"
	}
	return "\n"
}

// ParseLineEnding accepts the spellings used by .editorconfig, .gitattributes
// and the config file.
func ParseLineEnding(s string) (LineEnding, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lf":
		return LF, true
	case "crlf":
		return CRLF, true
	}
	return "", false
}

// DetectLineEnding returns the dominant convention in b. Ties and files
// without newlines are LF.
func DetectLineEnding(b []byte) LineEnding {
	crlf := bytes.Count(b, []byte("\r\n"))
	lf := bytes.Count(b, []byte("\n")) - crlf
	if crlf > lf {
		return CRLF
	}
	return LF
}

func ToLF(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// Convert rewrites every newline in s to le.
func Convert(s string, le LineEnding) string {
	s = ToLF(s)
	if le == CRLF {
		return strings.ReplaceAll(s, "\n", "\r\n")
	}
	return s
}
