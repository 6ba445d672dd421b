package concept

import "fmt"

// allowedTransitions defines the valid status transitions. The key is the
// current status, the value the set of statuses it may move to. Anything not
// listed here is rejected.
var allowedTransitions = map[Status][]Status{
	StatusActive:    {StatusFinalized, StatusDisabled, StatusDeleted},
	StatusFinalized: {StatusActive, StatusDeleted},
	StatusDisabled:  {StatusActive, StatusDeleted},
	StatusDeleted:   {StatusActive},
}

// CanTransition reports whether moving from one status to another is allowed.
// It is a pure lookup against the table above.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidStatusTransition (wrapped with the
// offending pair) if the transition is not allowed.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}
