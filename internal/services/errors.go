package services

import "errors"

// Typed errors crossing the engine boundary. The lifecycle controller
// translates storage failures into the same taxonomy before returning to
// callers; no partial mutation is ever observable alongside one of these.
var (
	// ErrInsufficientFunds is returned when the poster's available balance is
	// too low for the requested escrow lock. Caller-correctable, never retried.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidState is returned when the task's current status does not
	// permit the requested action.
	ErrInvalidState = errors.New("invalid task state for action")

	// ErrTerminalState is returned for any action against a PAID or
	// CANCELLED task.
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrUnauthorized is returned when the actor is neither the poster nor
	// the executor for an action that requires that relationship.
	ErrUnauthorized = errors.New("actor not permitted for this action")

	// ErrProofRequired is returned when completion is attempted with no final
	// deliverable attached.
	ErrProofRequired = errors.New("final proof attachment required")

	// ErrConcurrencyConflict is returned on a lost-update race; the whole
	// operation is safe to retry once with fresh state.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrStorage wraps transient I/O failures after the retry budget is
	// exhausted.
	ErrStorage = errors.New("storage failure")
)
