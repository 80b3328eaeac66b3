package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound       ErrorType = "NOT_FOUND"
	ErrorTypeAmbiguous      ErrorType = "AMBIGUOUS"
	ErrorTypeDenied         ErrorType = "DENIED"
	ErrorTypeConflict       ErrorType = "CONFLICT"
	ErrorTypeTransaction    ErrorType = "TRANSACTION"
	ErrorTypeInvalidRequest ErrorType = "INVALID_REQUEST"
)

// Gate rejection reasons.
const (
	ReasonOutsideTree = "outside-tree"
	ReasonUntracked   = "untracked"
	ReasonProtected   = "protected"
	ReasonNotEditable = "not-editable"
)

// Error is the typed failure returned by every public operation. Callers switch
// on Type; the remaining fields are filled depending on the kind.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`

	Path   string `json:"path,omitempty"`
	Reason string `json:"reason,omitempty"`
	Tier   string `json:"tier,omitempty"`
	Count  int    `json:"count,omitempty"`
	Op     string `json:"op,omitempty"`
	Cause  error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NotFound reports that no tier located the search string.
func NotFound(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
		Details: details,
	}
}

// Ambiguous reports that a tier matched count times where one match was required.
func Ambiguous(tier string, count int, details any) *Error {
	return &Error{
		Type:    ErrorTypeAmbiguous,
		Message: fmt.Sprintf("found %d matches of the string to replace (tier %s); add more context to make it unique", count, tier),
		Code:    http.StatusConflict,
		Details: details,
		Tier:    tier,
		Count:   count,
	}
}

func Denied(reason, path string) *Error {
	return &Error{
		Type:    ErrorTypeDenied,
		Message: fmt.Sprintf("write to %s denied: %s", path, reason),
		Code:    http.StatusForbidden,
		Path:    path,
		Reason:  reason,
	}
}

// Conflict reports that the file changed since the caller read it.
func Conflict(path, expected, actual string) *Error {
	return &Error{
		Type:    ErrorTypeConflict,
		Message: fmt.Sprintf("%s has been modified since it was read; read it again before editing", path),
		Code:    http.StatusPreconditionFailed,
		Path:    path,
		Details: map[string]string{"expected": expected, "actual": actual},
	}
}

// Transaction wraps a disk or history-log failure that happened while
// committing a change. The working tree has already been rolled back.
func Transaction(op, path string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeTransaction,
		Message: fmt.Sprintf("%s failed for %s", op, path),
		Code:    http.StatusInternalServerError,
		Path:    path,
		Op:      op,
		Cause:   cause,
	}
}

func InvalidRequest(message string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidRequest,
		Message: message,
		Code:    http.StatusBadRequest,
	}
}

// Internal wraps a failure that has no kind of its own.
func Internal(cause error) *Error {
	return &Error{
		Type:    ErrorTypeTransaction,
		Message: "internal error",
		Code:    http.StatusInternalServerError,
		Cause:   cause,
	}
}

// Response is the JSON body of a failed request.
type Response struct {
	Error *Error `json:"error"`
	Cause string `json:"cause,omitempty"`
}

// NewResponse renders err, treating untyped errors as internal ones.
func NewResponse(err error) Response {
	e, ok := As(err)
	if !ok {
		e = Internal(err)
	}
	resp := Response{Error: e}
	if e.Cause != nil {
		resp.Cause = e.Cause.Error()
	}
	return resp
}

// TypeOf returns the ErrorType carried by err, or "" for untyped errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

func Is(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

// As unwraps err into a typed *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}
