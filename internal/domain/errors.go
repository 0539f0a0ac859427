package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuizNotFound indicates the quiz does not exist.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrSubmissionNotFound indicates no submission row exists.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrStudentNotFound indicates an unknown student profile.
	ErrStudentNotFound = errors.New("student not found")
	// ErrNotStarted is returned when an operation requires a started attempt.
	ErrNotStarted = errors.New("quiz has not been started")
	// ErrAlreadyFinished rejects writes against a submitted or timed-out attempt.
	ErrAlreadyFinished = errors.New("submission already finalized")
	// ErrNotEligible rejects students outside the quiz's grade, center or window.
	ErrNotEligible = errors.New("quiz not available to this student")
	// ErrMissingSettings indicates a quiz without its settings row; a
	// configuration problem, reported as a conflict.
	ErrMissingSettings = errors.New("quiz settings missing")
	// ErrNoManualMode rejects a release request when neither targeted
	// visibility field is in manual mode.
	ErrNoManualMode = errors.New("score and answer visibility are not set to manual")
	// ErrForbidden rejects callers without rights on the resource.
	ErrForbidden = errors.New("permission denied")
)

// FieldError is one entry of a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries a structured per-field error list. Requests failing
// validation leave no partial state behind.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// Empty reports whether no field errors were collected.
func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

// Invalid builds a single-field ValidationError.
func Invalid(field, message string) *ValidationError {
	return (&ValidationError{}).Add(field, message)
}
