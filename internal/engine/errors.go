package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every *NotFoundError
	ErrNotFound = errors.New("not found")

	ErrNoSession            = errors.New("no session")
	ErrSessionNotActive     = errors.New("session is not active")
	ErrNoCurrentNode        = errors.New("session has no current node")
	ErrChoiceNotFound       = errors.New("choice not found on current node")
	ErrContinuationInFlight = errors.New("a continuation is already in flight")
	ErrStaleSession         = errors.New("session changed while generating")
	ErrInvalidChoices       = errors.New("choice ids must be non-empty and unique")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// NotFoundError reports an unknown world, storyline or session id
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidStateError is returned when an operation does not fit the current
// session state. Err is one of the sentinels above.
type InvalidStateError struct {
	Op  string
	Err error
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InvalidStateError) Unwrap() error {
	return e.Err
}

// ContinuationFailedError wraps a generator failure. The session is left
// untouched so the caller can retry the same choice.
type ContinuationFailedError struct {
	ChoiceID string
	Err      error
}

func (e *ContinuationFailedError) Error() string {
	return fmt.Sprintf("continuation failed for choice %s: %v", e.ChoiceID, e.Err)
}

func (e *ContinuationFailedError) Unwrap() error {
	return e.Err
}

func invalidState(op string, err error) error {
	return &InvalidStateError{Op: op, Err: err}
}
