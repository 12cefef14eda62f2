package transport

import (
	"errors"
	"fmt"

	"github.com/iliyamo/brick-focus/internal/model"
)

// Mutation and read failures.  None of them is retried by this package.
var (
	// ErrTransportUnavailable covers network failures, timeouts, 429 and
	// 5xx answers: the request may or may not have been applied.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrMutationRejected is any other definitive 4xx refusal.
	ErrMutationRejected = errors.New("mutation rejected")
	// ErrStaleWrite means a conditional focus update lost a race.
	ErrStaleWrite = errors.New("stale write")
)

// UnavailableError wraps the underlying cause of ErrTransportUnavailable.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string { return fmt.Sprintf("%s: transport unavailable: %v", e.Op, e.Err) }
func (e *UnavailableError) Unwrap() error { return e.Err }
func (e *UnavailableError) Is(target error) bool {
	return target == ErrTransportUnavailable
}

// RejectedError carries the store's status and message.
type RejectedError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected (%d): %s", e.Op, e.Status, e.Message)
}
func (e *RejectedError) Is(target error) bool { return target == ErrMutationRejected }

// StaleWriteError carries the record the store holds now.
type StaleWriteError struct {
	Current model.FocusRecord
}

func (e *StaleWriteError) Error() string { return "focus: stale write" }
func (e *StaleWriteError) Is(target error) bool { return target == ErrStaleWrite }
