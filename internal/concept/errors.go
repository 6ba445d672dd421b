package concept

import "errors"

var (
	// ErrConceptNotFound matches standard 404 behavior.
	ErrConceptNotFound = errors.New("payment concept not found")

	// ErrInvalidStatusTransition protects the status machine.
	ErrInvalidStatusTransition = errors.New("invalid concept status transition")

	// ErrNotUpdatable is returned when editing a finalized or deleted concept.
	ErrNotUpdatable = errors.New("concept is not in an updatable status")

	// Validation failures, user-correctable.
	ErrEmptyName         = errors.New("concept name must not be empty")
	ErrAmountOutOfBounds = errors.New("concept amount is outside the allowed range")
	ErrInvalidDateWindow = errors.New("concept date window is invalid")
	ErrMissingTargets    = errors.New("concept targeting list is empty for its scope")
)
