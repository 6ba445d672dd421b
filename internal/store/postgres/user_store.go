package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/campuspay/payments-service/internal/payment"
)

// UserStore is the read-mostly user directory. Account management lives in
// another service; this store only resolves billing data and persists the
// gateway customer id.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userQuery = `
	SELECT u.id, u.name, u.email, u.stripe_customer_id,
	       COALESCE(sd.control_number, ''), COALESCE(sd.career, ''),
	       COALESCE(sd.semester, 0), COALESCE(sd.tags, '{}')
	FROM users u
	LEFT JOIN student_details sd ON sd.user_id = u.id`

func (us *UserStore) GetBillingUser(ctx context.Context, userID uuid.UUID) (*payment.BillingUser, error) {
	return us.scanUser(us.db.QueryRowContext(ctx, userQuery+` WHERE u.id = $1`, userID))
}

func (us *UserStore) GetByCustomerID(ctx context.Context, customerID string) (*payment.BillingUser, error) {
	return us.scanUser(us.db.QueryRowContext(ctx, userQuery+` WHERE u.stripe_customer_id = $1`, customerID))
}

func (us *UserStore) scanUser(row *sql.Row) (*payment.BillingUser, error) {
	var (
		u          payment.BillingUser
		customerID sql.NullString
		tags       pq.StringArray
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &customerID,
		&u.ControlNumber, &u.Career, &u.Semester, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CustomerID = customerID.String
	u.Tags = tags
	return &u, nil
}

func (us *UserStore) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	res, err := us.db.ExecContext(ctx,
		`UPDATE users SET stripe_customer_id = $2 WHERE id = $1`, userID, customerID)
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return payment.ErrUserNotFound
	}
	return nil
}
