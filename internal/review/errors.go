package review

import "errors"

var (
	// ErrNotFound indicates the referenced session or question is absent.
	ErrNotFound = errors.New("not found")
	// ErrContactRequired indicates a meeting request was attempted before
	// contact info was attached to the session.
	ErrContactRequired = errors.New("contact info required")
)

// ValidationError rejects malformed review input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
