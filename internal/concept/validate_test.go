package concept

import (
	"errors"
	"testing"
	"time"

	"github.com/campuspay/payments-service/internal/money"
)

var testLimits = Limits{
	MinAmount: money.MustFrom("10"),
	MaxAmount: money.MustFrom("25000.00"),
}

func baseConcept(now time.Time) *Concept {
	return &Concept{
		Name:      "Tuition Fall",
		Amount:    money.MustFrom("1500.00"),
		StartDate: now,
		IsGlobal:  true,
		AppliesTo: AppliesToAll,
	}
}

func TestValidate_AmountBounds(t *testing.T) {
	now := time.Now()
	tests := []struct {
		amount  string
		wantErr bool
	}{
		{"5.00", true},     // below min
		{"10", true},       // min is exclusive
		{"10.01", false},   // just above min
		{"25000.00", false}, // at max
		{"25000.01", true}, // above max
	}
	for _, tt := range tests {
		c := baseConcept(now)
		c.Amount = money.MustFrom(tt.amount)
		err := c.Validate(testLimits, now, true)
		if tt.wantErr && !errors.Is(err, ErrAmountOutOfBounds) {
			t.Errorf("amount %s: expected ErrAmountOutOfBounds, got %v", tt.amount, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("amount %s: unexpected error %v", tt.amount, err)
		}
	}
}

func TestValidate_EmptyName(t *testing.T) {
	now := time.Now()
	c := baseConcept(now)
	c.Name = ""
	if err := c.Validate(testLimits, now, true); !errors.Is(err, ErrEmptyName) {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}
}

func TestValidate_DateWindow(t *testing.T) {
	now := time.Now()

	t.Run("start too far in the past on create", func(t *testing.T) {
		c := baseConcept(now)
		c.StartDate = now.AddDate(0, -2, 0)
		if err := c.Validate(testLimits, now, true); !errors.Is(err, ErrInvalidDateWindow) {
			t.Errorf("expected ErrInvalidDateWindow, got %v", err)
		}
		// The same start date is fine on update.
		if err := c.Validate(testLimits, now, false); err != nil {
			t.Errorf("update with old start date: unexpected error %v", err)
		}
	})

	t.Run("end before start", func(t *testing.T) {
		c := baseConcept(now)
		end := now.AddDate(0, 0, -1)
		c.EndDate = &end
		if err := c.Validate(testLimits, now, true); !errors.Is(err, ErrInvalidDateWindow) {
			t.Errorf("expected ErrInvalidDateWindow, got %v", err)
		}
	})

	t.Run("end beyond five years", func(t *testing.T) {
		c := baseConcept(now)
		end := now.AddDate(6, 0, 0)
		c.EndDate = &end
		if err := c.Validate(testLimits, now, true); !errors.Is(err, ErrInvalidDateWindow) {
			t.Errorf("expected ErrInvalidDateWindow, got %v", err)
		}
	})

	t.Run("valid one-year window", func(t *testing.T) {
		c := baseConcept(now)
		end := now.AddDate(1, 0, 0)
		c.EndDate = &end
		if err := c.Validate(testLimits, now, true); err != nil {
			t.Errorf("unexpected error %v", err)
		}
	})
}

func TestValidate_Targets(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		mutate  func(*Concept)
		wantErr bool
	}{
		{"career scope without careers", func(c *Concept) {
			c.IsGlobal = false
			c.AppliesTo = AppliesToCareer
		}, true},
		{"career scope with careers", func(c *Concept) {
			c.IsGlobal = false
			c.AppliesTo = AppliesToCareer
			c.Careers = []string{"ISC"}
		}, false},
		{"combined scope missing semesters", func(c *Concept) {
			c.IsGlobal = false
			c.AppliesTo = AppliesToCareerAndSemester
			c.Careers = []string{"ISC"}
		}, true},
		{"combined scope complete", func(c *Concept) {
			c.IsGlobal = false
			c.AppliesTo = AppliesToCareerAndSemester
			c.Careers = []string{"ISC"}
			c.Semesters = []int{3}
		}, false},
		{"student scope without list", func(c *Concept) {
			c.IsGlobal = false
			c.AppliesTo = AppliesToStudents
		}, true},
		{"global ignores empty lists", func(c *Concept) {
			c.IsGlobal = true
			c.AppliesTo = AppliesToCareer
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseConcept(now)
			tt.mutate(c)
			err := c.Validate(testLimits, now, true)
			if tt.wantErr && !errors.Is(err, ErrMissingTargets) {
				t.Errorf("expected ErrMissingTargets, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}
