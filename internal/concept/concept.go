// Package concept holds the payment-concept entity: a payable item a student
// may owe, its status lifecycle and its applicability (targeting) rules.
package concept

import (
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/money"
)

// Status is the lifecycle state of a payment concept.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusFinalized Status = "FINALIZED"
	StatusDisabled  Status = "DISABLED"
	StatusDeleted   Status = "DELETED"
)

// AppliesTo scopes which students a non-global concept targets.
type AppliesTo string

const (
	AppliesToAll               AppliesTo = "ALL"
	AppliesToCareer            AppliesTo = "CAREER"
	AppliesToSemester          AppliesTo = "SEMESTER"
	AppliesToCareerAndSemester AppliesTo = "CAREER_AND_SEMESTER"
	AppliesToStudents          AppliesTo = "STUDENTS"
)

// Concept is a payable item (e.g. tuition, enrollment fee).
type Concept struct {
	ID          uuid.UUID
	Name        string
	Description string
	Amount      money.Money
	Status      Status
	StartDate   time.Time
	EndDate     *time.Time // nil means no deadline
	IsGlobal    bool
	AppliesTo   AppliesTo

	// Targeting relations. Careers are career codes, Semesters ordinal
	// numbers, StudentIDs and Exceptions student control numbers.
	Careers    []string
	Semesters  []int
	StudentIDs []string
	Exceptions []string

	// ApplicantTags target special-case cohorts that exist outside the
	// regular career/semester structure (e.g. "applicant",
	// "no_student_details").
	ApplicantTags []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Updatable reports whether concept fields may still be edited.
// Finalized and deleted concepts are frozen.
func (c *Concept) Updatable() bool {
	return c.Status == StatusActive || c.Status == StatusDisabled
}

// WindowContains reports whether the concept's date window
// [StartDate, EndDate|infinity] contains the given instant.
func (c *Concept) WindowContains(t time.Time) bool {
	if t.Before(c.StartDate) {
		return false
	}
	if c.EndDate != nil && t.After(*c.EndDate) {
		return false
	}
	return true
}

// Expired reports whether the concept's deadline has passed.
func (c *Concept) Expired(now time.Time) bool {
	return c.EndDate != nil && now.After(*c.EndDate)
}
