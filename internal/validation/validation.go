package validation

import (
	"encoding/json"
	"fmt"
	"net/http"

	"scribe/internal/errors"
)

// Validator is implemented by request bodies that check their own fields.
type Validator interface {
	Validate() error
}

// Field is a named request value for Required.
type Field struct {
	Name  string
	Value string
}

// DecodeRequest decodes the JSON body of r into v and validates it when v
// implements Validator.
func DecodeRequest(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.InvalidRequest("invalid request body: " + err.Error())
	}

	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}

// Required fails on the first empty field.
func Required(fields ...Field) error {
	for _, f := range fields {
		if f.Value == "" {
			return errors.InvalidRequest(fmt.Sprintf("%s is required", f.Name))
		}
	}
	return nil
}
