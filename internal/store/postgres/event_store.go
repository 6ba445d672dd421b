package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/ledger"
)

// EventStore implements the event ledger on the payment_events table. The
// partial unique indexes on (stripe_event_id, event_type) and
// (payment_id, event_type) make RecordIfNew a true first-writer-wins insert;
// there is no read-check anywhere in the write path.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func (es *EventStore) RecordIfNew(ctx context.Context, key ledger.Key, t ledger.EventType) (*ledger.PaymentEvent, bool, error) {
	var stripeEventID *string
	var paymentID *uuid.UUID
	if key.StripeEventID != "" {
		stripeEventID = &key.StripeEventID
	} else {
		paymentID = &key.PaymentID
	}

	insert := `
		INSERT INTO payment_events (id, payment_id, stripe_event_id, event_type, processed, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
		ON CONFLICT DO NOTHING
	`
	res, err := es.db.ExecContext(ctx, insert, uuid.New(), paymentID, stripeEventID, t)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record event: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	// Read back by key rather than by the generated id: on conflict the
	// winner's row is the one everybody must see.
	ev, err := es.getByKey(ctx, key, t)
	if err != nil {
		return nil, false, err
	}
	return ev, inserted == 1, nil
}

func (es *EventStore) getByKey(ctx context.Context, key ledger.Key, t ledger.EventType) (*ledger.PaymentEvent, error) {
	var (
		query string
		arg   any
	)
	if key.StripeEventID != "" {
		query = `SELECT id, payment_id, stripe_event_id, event_type, processed, retry_count, created_at
			FROM payment_events WHERE stripe_event_id = $1 AND event_type = $2`
		arg = key.StripeEventID
	} else {
		query = `SELECT id, payment_id, stripe_event_id, event_type, processed, retry_count, created_at
			FROM payment_events WHERE payment_id = $1 AND stripe_event_id IS NULL AND event_type = $2`
		arg = key.PaymentID
	}

	var (
		ev        ledger.PaymentEvent
		paymentID uuid.NullUUID
		stripeID  sql.NullString
	)
	err := es.db.QueryRowContext(ctx, query, arg, t).Scan(
		&ev.ID, &paymentID, &stripeID, &ev.EventType, &ev.Processed, &ev.RetryCount, &ev.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	if paymentID.Valid {
		id := paymentID.UUID
		ev.PaymentID = &id
	}
	if stripeID.Valid {
		ev.StripeEventID = &stripeID.String
	}
	return &ev, nil
}

func (es *EventStore) MarkProcessed(ctx context.Context, eventID uuid.UUID) error {
	res, err := es.db.ExecContext(ctx,
		`UPDATE payment_events SET processed = TRUE WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrEventNotFound
	}
	return nil
}

func (es *EventStore) ExistsProcessed(ctx context.Context, key ledger.Key, t ledger.EventType) (bool, error) {
	ev, err := es.getByKey(ctx, key, t)
	if errors.Is(err, ledger.ErrEventNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ev.Processed, nil
}

// PurgeOlderThan trims the audit trail. Idempotency for live retry windows is
// unaffected as long as retention is far longer than the gateway's redelivery
// horizon.
func (es *EventStore) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	res, err := es.db.ExecContext(ctx,
		`DELETE FROM payment_events WHERE created_at < NOW() - ($1 || ' days')::interval`,
		retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	return res.RowsAffected()
}
