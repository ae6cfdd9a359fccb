package analysis

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates a referenced run or review session is absent.
	ErrNotFound = errors.New("not found")
	// ErrStaleGeneration indicates a write was skipped because the run was
	// reset by a newer trigger after this execution was dispatched.
	ErrStaleGeneration = errors.New("stale run generation")
	// ErrNotCompleted indicates the review session exists but has not
	// finished the questionnaire, so no run can be resolved for it yet.
	ErrNotCompleted = errors.New("review session not completed")
)

// InputError rejects a malformed trigger payload before any run is created.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// DecodeError indicates the completion output is not well-formed JSON.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "json decode error"
	}
	return "json decode error: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Violation is one field-level schema failure.
type Violation struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// SchemaError indicates well-formed JSON that does not conform to the
// dashboard contract. All violations found are collected.
type SchemaError struct {
	Violations []Violation
}

func (e *SchemaError) Error() string {
	if len(e.Violations) == 0 {
		return "schema validation failed"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Issue)
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// PersistenceError indicates the terminal write failed after a successful run.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return "persistence failed"
	}
	return "persistence failed: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
