package attendance

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound covers a missing class, a missing session, or a student
	// outside the session roster.
	ErrNotFound = errors.New("not found")

	ErrInvalidCredential = errors.New("invalid credential")
	ErrCredentialExpired = errors.New("credential expired")
	ErrAlreadyMarked     = errors.New("attendance already marked")

	// ErrTransientConflict marks storage failures that are safe to retry
	// as a whole transaction.
	ErrTransientConflict = errors.New("transient store conflict")
)

// FieldError is a problem with a single input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError reports malformed or missing caller input.
type ValidationError struct {
	Fields []FieldError
}

func NewValidationError(flds ...FieldError) error {
	return &ValidationError{Fields: flds}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsTransient reports whether err may succeed if the transaction is retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}
