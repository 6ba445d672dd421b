package concept

import (
	"slices"
	"time"
)

// StudentProfile is the slice of a user the resolver needs: where they sit in
// the career/semester structure and which special-case cohorts they belong to.
type StudentProfile struct {
	ControlNumber string
	Career        string
	Semester      int
	Tags          []string
}

// AppliesToStudent decides whether this concept applies to the given student.
//
// The rule is a disjunction minus an exception:
// a global concept applies to everyone; otherwise it applies when the
// student's career is targeted, OR their semester is targeted, OR their
// control number is explicitly listed, OR they carry one of the concept's
// applicant tags. A student on the exception list never owes the concept,
// even if otherwise targeted.
//
// The set-oriented SQL in the concept store translates this exact disjunction
// to OR'd EXISTS checks with the exception as a NOT EXISTS; the two
// formulations must stay in agreement.
func (c *Concept) AppliesToStudent(s StudentProfile) bool {
	if slices.Contains(c.Exceptions, s.ControlNumber) {
		return false
	}
	if c.IsGlobal {
		return true
	}
	if slices.Contains(c.Careers, s.Career) {
		return true
	}
	if slices.Contains(c.Semesters, s.Semester) {
		return true
	}
	if slices.Contains(c.StudentIDs, s.ControlNumber) {
		return true
	}
	for _, tag := range c.ApplicantTags {
		if slices.Contains(s.Tags, tag) {
			return true
		}
	}
	return false
}

// PendingFor reports whether this concept is pending for the student: it
// applies to them, its date window contains now, and hasPayment is false
// (no payment row exists for the pair).
func (c *Concept) PendingFor(s StudentProfile, now time.Time, hasPayment bool) bool {
	return !hasPayment && c.Status == StatusActive && c.WindowContains(now) && c.AppliesToStudent(s)
}

// OverdueFor reports whether the concept's deadline passed without the
// student paying it.
func (c *Concept) OverdueFor(s StudentProfile, now time.Time, hasPayment bool) bool {
	return !hasPayment && c.Expired(now) && c.AppliesToStudent(s)
}
