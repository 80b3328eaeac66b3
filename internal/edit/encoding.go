package edit

import (
	"bytes"
	"errors"
	"unicode/utf8"
)

const (
	UTF8    = "utf-8"
	UTF8BOM = "utf-8-bom"
)

var ErrNotText = errors.New("file is not valid UTF-8 text")

var bom = []byte{0xEF, 0xBB, 0xBF}

// Decoded is file content in the form the matcher works on: LF newlines, no BOM.
type Decoded struct {
	Text       string
	Encoding   string
	LineEnding LineEnding
}

// Decode normalizes raw bytes once on load. Newline style and BOM are
// remembered so Encode can restore them on save.
func Decode(raw []byte) (Decoded, error) {
	enc := UTF8
	if bytes.HasPrefix(raw, bom) {
		enc = UTF8BOM
		raw = raw[len(bom):]
	}
	if !utf8.Valid(raw) {
		return Decoded{}, ErrNotText
	}
	return Decoded{
		Text:       ToLF(string(raw)),
		Encoding:   enc,
		LineEnding: DetectLineEnding(raw),
	}, nil
}

// Encode is the inverse of Decode.
func Encode(text, encoding string, le LineEnding) []byte {
	body := Convert(text, le)
	if encoding == UTF8BOM {
		out := make([]byte, 0, len(bom)+len(body))
		out = append(out, bom...)
		return append(out, body...)
	}
	return []byte(body)
}
