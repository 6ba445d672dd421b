package concept

import (
	"fmt"
	"time"

	"github.com/campuspay/payments-service/internal/money"
)

// Limits carries the configured validation bounds. Threaded in explicitly;
// there is no ambient config lookup.
type Limits struct {
	MinAmount money.Money // exclusive lower bound
	MaxAmount money.Money // inclusive upper bound
}

const maxWindow = 5 * 365 * 24 * time.Hour // end_date at most ~5 years past start

// Validate checks a concept for creation or update, in order: name, amount
// bounds, start date (creation only: within one month of today either way),
// date window, then targeting completeness for its scope.
func (c *Concept) Validate(limits Limits, now time.Time, creating bool) error {
	if c.Name == "" {
		return ErrEmptyName
	}

	if !c.Amount.GreaterThan(limits.MinAmount) {
		return fmt.Errorf("%w: %s is not above the minimum %s",
			ErrAmountOutOfBounds, c.Amount, limits.MinAmount)
	}
	if c.Amount.GreaterThan(limits.MaxAmount) {
		return fmt.Errorf("%w: %s exceeds the maximum %s",
			ErrAmountOutOfBounds, c.Amount, limits.MaxAmount)
	}

	if creating {
		if c.StartDate.Before(now.AddDate(0, -1, 0)) || c.StartDate.After(now.AddDate(0, 1, 0)) {
			return fmt.Errorf("%w: start date must be within one month of today", ErrInvalidDateWindow)
		}
	}
	if c.EndDate != nil {
		if c.EndDate.Before(c.StartDate) {
			return fmt.Errorf("%w: end date precedes start date", ErrInvalidDateWindow)
		}
		if c.EndDate.Sub(c.StartDate) > maxWindow {
			return fmt.Errorf("%w: end date is more than five years past start", ErrInvalidDateWindow)
		}
	}

	return c.validateTargets()
}

// validateTargets enforces that a scoped concept names who it targets.
// The combined scope requires both lists.
func (c *Concept) validateTargets() error {
	if c.IsGlobal {
		return nil
	}
	switch c.AppliesTo {
	case AppliesToAll:
		return nil
	case AppliesToCareer:
		if len(c.Careers) == 0 {
			return fmt.Errorf("%w: career scope needs at least one career", ErrMissingTargets)
		}
	case AppliesToSemester:
		if len(c.Semesters) == 0 {
			return fmt.Errorf("%w: semester scope needs at least one semester", ErrMissingTargets)
		}
	case AppliesToCareerAndSemester:
		if len(c.Careers) == 0 || len(c.Semesters) == 0 {
			return fmt.Errorf("%w: combined scope needs both careers and semesters", ErrMissingTargets)
		}
	case AppliesToStudents:
		if len(c.StudentIDs) == 0 {
			return fmt.Errorf("%w: student scope needs an explicit student list", ErrMissingTargets)
		}
	}
	return nil
}
