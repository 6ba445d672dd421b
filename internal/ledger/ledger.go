// Package ledger is the idempotency gate for every side-effecting handler in
// the payment core. An event is recorded at first sight, marked processed only
// after its handler completed, and purged after a retention window. Under
// at-least-once webhook delivery this is the single correctness-critical
// concurrency primitive in the system: RecordIfNew must be backed by a
// storage-level uniqueness constraint, never by a check-then-act.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEventNotFound is returned when marking an event that was never recorded.
var ErrEventNotFound = errors.New("payment event not found")

// PaymentEvent is one idempotency/audit record.
type PaymentEvent struct {
	ID uuid.UUID

	// PaymentID is nil for events that precede the local payment record
	// (a webhook can arrive before the initiating request committed).
	PaymentID *uuid.UUID

	// StripeEventID is the external event id, nil for triggers that do not
	// originate from a uniquely-identified gateway delivery.
	StripeEventID *string

	EventType  EventType
	Processed  bool
	RetryCount int
	CreatedAt  time.Time
}

// Key identifies an event for deduplication. When StripeEventID is set the
// pair (StripeEventID, EventType) is the idempotency key; otherwise the pair
// (PaymentID, EventType) is used.
type Key struct {
	StripeEventID string
	PaymentID     uuid.UUID
}

// ExternalKey keys an event by its gateway event id.
func ExternalKey(stripeEventID string) Key {
	return Key{StripeEventID: stripeEventID}
}

// PaymentKey keys an event by the local payment it concerns.
func PaymentKey(paymentID uuid.UUID) Key {
	return Key{PaymentID: paymentID}
}

// Ledger records events exactly once.
//
// Every side-effecting handler follows the same shape:
//
//	ev, isNew, err := ledger.RecordIfNew(ctx, key, typ)
//	if err != nil { return err }
//	if !isNew && ev.Processed { return nil } // duplicate: ack, no side effects
//	... perform idempotent work ...
//	return ledger.MarkProcessed(ctx, ev.ID)
//
// A crash mid-handler leaves Processed=false so a redelivery finishes the
// work; the work itself must therefore be expressed as field overwrites.
type Ledger interface {
	// RecordIfNew atomically inserts the event if its key is unseen.
	// A race between two deliveries of the same event yields exactly one
	// isNew=true; the loser receives the winner's row with isNew=false.
	RecordIfNew(ctx context.Context, key Key, t EventType) (ev *PaymentEvent, isNew bool, err error)

	// MarkProcessed flags the event as fully handled.
	MarkProcessed(ctx context.Context, eventID uuid.UUID) error

	// ExistsProcessed reports whether the event was already fully handled.
	ExistsProcessed(ctx context.Context, key Key, t EventType) (bool, error)

	// PurgeOlderThan deletes events past the retention window and returns
	// the number removed. Retention is independent of the payments the
	// events reference.
	PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error)
}
