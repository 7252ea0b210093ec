// Package validation provides the field-level error used for malformed
// configuration, missing credentials, empty attachments and unparseable requests.
// These errors are terminal and never retried.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// Error describes a single invalid field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// New returns a validation error for field.
func New(field, format string, args ...interface{}) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Required returns the standard "is required" error for field.
func Required(field string) *Error {
	return &Error{Field: field, Message: "is required"}
}

// Is reports whether err is, or wraps, a validation error.
func Is(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// RequireAll checks that every named value is non-blank and reports the first
// missing field in the order given.
func RequireAll(fields ...[2]string) error {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return Required(f[0])
		}
	}
	return nil
}
