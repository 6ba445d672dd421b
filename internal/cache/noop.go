package cache

import (
	"context"

	"github.com/google/uuid"
)

// Noop discards every invalidation signal. Used when no broker is configured
// (local development, tests).
type Noop struct{}

func (Noop) InvalidateStudentPaymentViews(context.Context, ...uuid.UUID) error { return nil }
func (Noop) InvalidateStaffDashboards(context.Context) error                   { return nil }
func (Noop) InvalidateConceptCaches(context.Context, uuid.UUID) error          { return nil }
