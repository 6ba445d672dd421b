package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/money"
	"github.com/campuspay/payments-service/internal/payment"
)

type PaymentStore struct {
	db *sql.DB
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentColumns = `
	id, user_id, concept_id, concept_name, payment_method_id, stripe_method_id,
	amount, amount_received, method_type, method_brand, method_last4, method_funding,
	status, stripe_intent_id, stripe_session_id, url, created_at, updated_at`

// Create inserts the payment. The payments_open_attempt_uniq partial index is
// the single-open-attempt guarantee; a violation of it maps to
// ErrOpenPaymentExists so callers can treat the race as a business outcome.
func (ps *PaymentStore) Create(ctx context.Context, p *payment.Payment) error {
	query := `
		INSERT INTO payments
			(id, user_id, concept_id, concept_name, amount, status,
			 stripe_intent_id, stripe_session_id, url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`
	_, err := ps.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.ConceptID, p.ConceptName,
		p.Amount.String(), p.Status,
		p.IntentID, p.SessionID, p.URL,
	)
	if err != nil {
		if isUniqueViolation(err, "payments_open_attempt_uniq") {
			return payment.ErrOpenPaymentExists
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (ps *PaymentStore) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	row := ps.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (ps *PaymentStore) GetBySessionID(ctx context.Context, sessionID string) (*payment.Payment, error) {
	row := ps.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE stripe_session_id = $1`, sessionID)
	return scanPayment(row)
}

func (ps *PaymentStore) GetByIntentID(ctx context.Context, intentID string) (*payment.Payment, error) {
	row := ps.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE stripe_intent_id = $1`, intentID)
	return scanPayment(row)
}

// Update overwrites the mutable fields. Re-running the same update is a no-op
// on the data, which is what keeps webhook redeliveries safe.
func (ps *PaymentStore) Update(ctx context.Context, p *payment.Payment) error {
	return ps.update(ctx, ps.db, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (ps *PaymentStore) update(ctx context.Context, ex execer, p *payment.Payment) error {
	query := `
		UPDATE payments SET
			payment_method_id = $2,
			stripe_method_id  = $3,
			amount_received   = $4,
			method_type = $5, method_brand = $6, method_last4 = $7, method_funding = $8,
			status = $9,
			stripe_intent_id = COALESCE($10, stripe_intent_id),
			url = COALESCE($11, url),
			updated_at = NOW()
		WHERE id = $1
	`
	var received *string
	if p.AmountReceived != nil {
		s := p.AmountReceived.String()
		received = &s
	}
	var mType, mBrand, mLast4, mFunding *string
	if d := p.MethodDetails; d != nil {
		mType, mBrand, mLast4, mFunding = &d.Type, &d.Brand, &d.Last4, &d.Funding
	}
	res, err := ex.ExecContext(ctx, query,
		p.ID, p.PaymentMethodID, p.StripeMethodID, received,
		mType, mBrand, mLast4, mFunding,
		p.Status, p.IntentID, p.URL,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return payment.ErrPaymentNotFound
	}
	return nil
}

// UpdateWithMethod upserts the method and updates the payment inside one
// transaction, wiring the stored method id into the payment row.
func (ps *PaymentStore) UpdateWithMethod(ctx context.Context, p *payment.Payment, m *payment.PaymentMethod) error {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var methodID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO payment_methods
			(id, user_id, stripe_payment_method_id, type, brand, last4, exp_month, exp_year, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (stripe_payment_method_id) DO UPDATE SET
			type = EXCLUDED.type, brand = EXCLUDED.brand, last4 = EXCLUDED.last4,
			status = EXCLUDED.status
		RETURNING id
	`, m.ID, m.UserID, m.StripeID, m.Type, m.Brand, m.Last4, m.ExpMonth, m.ExpYear, m.Status).Scan(&methodID)
	if err != nil {
		return fmt.Errorf("failed to upsert payment method: %w", err)
	}
	m.ID = methodID
	p.PaymentMethodID = &methodID

	if err := ps.update(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func (ps *PaymentStore) StreamPaidSince(ctx context.Context, since time.Time, fn func(*payment.Payment) error) error {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = $1 AND updated_at >= $2
		ORDER BY created_at ASC`
	return ps.stream(ctx, fn, query, payment.StatusPaid, since)
}

func (ps *PaymentStore) StreamStuckPending(ctx context.Context, olderThan time.Time, fn func(*payment.Payment) error) error {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status NOT IN ($1, $2, $3, $4) AND updated_at < $5
		ORDER BY created_at ASC`
	return ps.stream(ctx, fn, query,
		payment.StatusPaid, payment.StatusFailed, payment.StatusExpired, payment.StatusOverpaid,
		olderThan)
}

func (ps *PaymentStore) stream(ctx context.Context, fn func(*payment.Payment) error, query string, args ...any) error {
	rows, err := ps.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*payment.Payment, error) {
	var (
		p        payment.Payment
		methodID uuid.NullUUID
		amount   string
		received sql.NullString

		stripeMethodID, mType, mBrand, mLast4, mFunding sql.NullString
		intentID, sessionID, url                        sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.ConceptID, &p.ConceptName, &methodID, &stripeMethodID,
		&amount, &received, &mType, &mBrand, &mLast4, &mFunding,
		&p.Status, &intentID, &sessionID, &url, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Amount, err = money.From(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount on payment %s: %w", p.ID, err)
	}
	if received.Valid {
		r, err := money.From(received.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount_received on payment %s: %w", p.ID, err)
		}
		p.AmountReceived = &r
	}
	if methodID.Valid {
		id := methodID.UUID
		p.PaymentMethodID = &id
	}
	if mType.Valid || mBrand.Valid || mLast4.Valid {
		p.MethodDetails = &payment.MethodDetails{
			Type:    mType.String,
			Brand:   mBrand.String,
			Last4:   mLast4.String,
			Funding: mFunding.String,
		}
	}
	p.StripeMethodID = nullable(stripeMethodID)
	p.IntentID = nullable(intentID)
	p.SessionID = nullable(sessionID)
	p.URL = nullable(url)
	return &p, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
