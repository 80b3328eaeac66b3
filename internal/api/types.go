package api

import (
	"fmt"
	"time"

	"scribe/internal/errors"
	"scribe/internal/validation"
	"scribe/internal/workspace"
)

type SessionResponse struct {
	Session   string    `json:"session"`
	CreatedAt time.Time `json:"created_at"`
}

type ReadFileRequest struct {
	Path string `json:"path" jsonschema:"required,description=Path of the file. Relative paths start at the working tree root."`
}

func (r *ReadFileRequest) Validate() error {
	return validation.Required(validation.Field{Name: "path", Value: r.Path})
}

type ReadFileResponse struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	Hash       string `json:"hash"`
	Encoding   string `json:"encoding,omitempty"`
	LineEnding string `json:"line_ending,omitempty"`
	Revision   string `json:"revision,omitempty"`
}

// NewReadFileResponse renders a text snapshot. Binary files are refused.
func NewReadFileResponse(snap *workspace.Snapshot) (*ReadFileResponse, error) {
	if !snap.IsText() {
		return nil, errors.InvalidRequest(fmt.Sprintf("%s is not a UTF-8 text file", snap.Rel))
	}
	return &ReadFileResponse{
		Path:       snap.Rel,
		Content:    snap.Text,
		Hash:       snap.Hash,
		Encoding:   snap.Encoding,
		LineEnding: string(snap.LineEnding),
		Revision:   snap.Revision,
	}, nil
}

type WriteFileRequest struct {
	Session     string `json:"session" jsonschema:"required,description=Session id returned when the session was opened."`
	Path        string `json:"path" jsonschema:"required,description=Path of the file to write. It must be tracked or not exist yet."`
	Content     string `json:"content" jsonschema:"required,description=The complete new content of the file."`
	Description string `json:"description" jsonschema:"description=One line describing the change for the commit message."`
}

func (r *WriteFileRequest) Validate() error {
	return validation.Required(
		validation.Field{Name: "session", Value: r.Session},
		validation.Field{Name: "path", Value: r.Path},
	)
}

type EditFileRequest struct {
	Session              string `json:"session" jsonschema:"required,description=Session id returned when the session was opened."`
	Path                 string `json:"path" jsonschema:"required,description=Path of the file to edit."`
	OldString            string `json:"old_string" jsonschema:"required,description=The text to replace. It must occur exactly once unless expected_replacements says otherwise."`
	NewString            string `json:"new_string" jsonschema:"required,description=The replacement text."`
	ExpectedReplacements int    `json:"expected_replacements,omitempty" jsonschema:"minimum=1,description=Number of occurrences to replace. Defaults to 1."`
	Description          string `json:"description" jsonschema:"description=One line describing the change for the commit message."`
	ExpectedHash         string `json:"expected_hash,omitempty" jsonschema:"description=Hash returned by read_file. The edit fails if the file changed since."`
}

func (r *EditFileRequest) Validate() error {
	if r.ExpectedReplacements < 0 {
		return errors.InvalidRequest("expected_replacements must be positive")
	}
	return validation.Required(
		validation.Field{Name: "session", Value: r.Session},
		validation.Field{Name: "path", Value: r.Path},
	)
}

type RemoveFileRequest struct {
	Session     string `json:"session" jsonschema:"required,description=Session id returned when the session was opened."`
	Path        string `json:"path" jsonschema:"required,description=Path of the tracked file to remove."`
	Description string `json:"description" jsonschema:"description=One line describing why the file is removed."`
}

func (r *RemoveFileRequest) Validate() error {
	return validation.Required(
		validation.Field{Name: "session", Value: r.Session},
		validation.Field{Name: "path", Value: r.Path},
	)
}

type ChmodRequest struct {
	Session     string `json:"session" jsonschema:"required,description=Session id returned when the session was opened."`
	Path        string `json:"path" jsonschema:"required,description=Path of the tracked file."`
	Mode        string `json:"mode" jsonschema:"required,enum=a+x,enum=a-x,description=a+x makes the file executable and a-x removes the executable bits."`
	Description string `json:"description" jsonschema:"description=One line describing the change for the commit message."`
}

func (r *ChmodRequest) Validate() error {
	return validation.Required(
		validation.Field{Name: "session", Value: r.Session},
		validation.Field{Name: "path", Value: r.Path},
		validation.Field{Name: "mode", Value: r.Mode},
	)
}

// OpenSessionRequest takes no input; it exists for the tool schema.
type OpenSessionRequest struct{}

type CloseSessionRequest struct {
	Session string `json:"session" jsonschema:"required,description=Session id to close."`
}

// Tool describes one operation for agents that discover the API.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"input_schema"`
}
