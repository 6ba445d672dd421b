package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/payment"
)

type MethodStore struct {
	db *sql.DB
}

func NewMethodStore(db *sql.DB) *MethodStore {
	return &MethodStore{db: db}
}

const methodColumns = `id, user_id, stripe_payment_method_id, type, brand, last4, exp_month, exp_year, status, created_at`

// UpsertByStripeID keys on the gateway token: attaching the same card twice
// refreshes the existing row instead of duplicating it.
func (ms *MethodStore) UpsertByStripeID(ctx context.Context, m *payment.PaymentMethod) (*payment.PaymentMethod, error) {
	row := ms.db.QueryRowContext(ctx, `
		INSERT INTO payment_methods
			(id, user_id, stripe_payment_method_id, type, brand, last4, exp_month, exp_year, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (stripe_payment_method_id) DO UPDATE SET
			type = EXCLUDED.type, brand = EXCLUDED.brand, last4 = EXCLUDED.last4,
			exp_month = EXCLUDED.exp_month, exp_year = EXCLUDED.exp_year,
			status = EXCLUDED.status
		RETURNING `+methodColumns,
		m.ID, m.UserID, m.StripeID, m.Type, m.Brand, m.Last4, m.ExpMonth, m.ExpYear, m.Status)
	return scanMethod(row)
}

func (ms *MethodStore) GetByID(ctx context.Context, id uuid.UUID) (*payment.PaymentMethod, error) {
	row := ms.db.QueryRowContext(ctx,
		`SELECT `+methodColumns+` FROM payment_methods WHERE id = $1`, id)
	return scanMethod(row)
}

func (ms *MethodStore) GetByStripeID(ctx context.Context, stripeID string) (*payment.PaymentMethod, error) {
	row := ms.db.QueryRowContext(ctx,
		`SELECT `+methodColumns+` FROM payment_methods WHERE stripe_payment_method_id = $1`, stripeID)
	return scanMethod(row)
}

func (ms *MethodStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := ms.db.ExecContext(ctx, `DELETE FROM payment_methods WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment method: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return payment.ErrMethodNotFound
	}
	return nil
}

func scanMethod(row rowScanner) (*payment.PaymentMethod, error) {
	var m payment.PaymentMethod
	err := row.Scan(&m.ID, &m.UserID, &m.StripeID, &m.Type, &m.Brand, &m.Last4,
		&m.ExpMonth, &m.ExpYear, &m.Status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrMethodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment method: %w", err)
	}
	return &m, nil
}
