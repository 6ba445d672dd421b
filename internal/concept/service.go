package concept

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store handles persistence of payment concepts and the set-oriented
// eligibility queries the dashboards run.
type Store interface {
	Create(ctx context.Context, c *Concept) error
	Update(ctx context.Context, c *Concept) error
	GetByID(ctx context.Context, id uuid.UUID) (*Concept, error)

	// UpdateStatus performs the transition as a compare-and-swap
	// (UPDATE ... WHERE status = from). It returns ErrInvalidStatusTransition
	// when the row was concurrently moved out of the expected status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error

	// FinalizeExpired moves Active concepts whose end_date has passed to
	// Finalized and returns how many rows changed.
	FinalizeExpired(ctx context.Context, now time.Time) (int64, error)

	// PendingForStudent returns concepts that apply to the student, whose
	// window contains now, with no payment row for the pair.
	PendingForStudent(ctx context.Context, controlNumber string, now time.Time) ([]*Concept, error)

	// OverdueForStudent is PendingForStudent restricted to concepts whose
	// end_date has already passed.
	OverdueForStudent(ctx context.Context, controlNumber string, now time.Time) ([]*Concept, error)

	// EligibleStudents returns the control numbers of every student the
	// concept applies to. Same disjunction as Concept.AppliesToStudent.
	EligibleStudents(ctx context.Context, conceptID uuid.UUID) ([]string, error)
}

// CacheInvalidator signals that concept-derived views are stale.
// Best effort: failures are logged, never propagated.
type CacheInvalidator interface {
	InvalidateConceptCaches(ctx context.Context, conceptID uuid.UUID) error
}

// Service drives the concept lifecycle: creation, edits and status
// transitions, all gated by the validation rules and the transition table.
type Service struct {
	store  Store
	cache  CacheInvalidator
	limits Limits
}

func NewService(store Store, cache CacheInvalidator, limits Limits) *Service {
	return &Service{store: store, cache: cache, limits: limits}
}

// Create validates and persists a new concept. Concepts are born Active.
func (s *Service) Create(ctx context.Context, c *Concept) error {
	now := time.Now()
	if err := c.Validate(s.limits, now, true); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = StatusActive
	if err := s.store.Create(ctx, c); err != nil {
		return fmt.Errorf("failed to create concept: %w", err)
	}
	s.invalidate(ctx, c.ID)
	return nil
}

// Update edits an existing concept. Only Active and Disabled concepts are
// updatable; the status itself is not changed here (see ChangeStatus).
func (s *Service) Update(ctx context.Context, c *Concept) error {
	current, err := s.store.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if !current.Updatable() {
		return fmt.Errorf("%w: current status is %s", ErrNotUpdatable, current.Status)
	}
	if err := c.Validate(s.limits, time.Now(), false); err != nil {
		return err
	}
	if err := s.store.Update(ctx, c); err != nil {
		return fmt.Errorf("failed to update concept: %w", err)
	}
	s.invalidate(ctx, c.ID)
	return nil
}

// ChangeStatus moves a concept through its lifecycle. The transition table is
// checked in memory to fail fast; the store re-checks it with a conditional
// update so a concurrent transition cannot slip through.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to Status) error {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidateTransition(current.Status, to); err != nil {
		return err
	}
	if err := s.store.UpdateStatus(ctx, id, current.Status, to); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateConceptCaches(ctx, id); err != nil {
		slog.Warn("concept cache invalidation failed", "concept_id", id, "error", err)
	}
}
