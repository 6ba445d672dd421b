// Package payment holds the payment entity and the state machine that applies
// gateway events and manual staff actions to it.
package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/money"
)

// Status is the canonical payment status set. Gateway intent statuses map
// into it exactly once, in StatusFromIntent; handlers compare these values
// only, never gateway string literals.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusRequiresAction Status = "REQUIRES_ACTION"
	StatusPaid           Status = "PAID"
	StatusFailed         Status = "FAILED"
	StatusExpired        Status = "EXPIRED"
	StatusUnderpaid      Status = "UNDERPAID"
	StatusOverpaid       Status = "OVERPAID"
)

// Terminal reports whether no further gateway-driven transition is expected.
// An underpaid payment is not terminal: the gateway may still settle the
// remainder or expire the session.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusExpired, StatusOverpaid:
		return true
	}
	return false
}

// StatusFromIntent derives the canonical status from a gateway intent status
// and the received-vs-due amounts. This is the single point where gateway
// status strings enter the domain.
func StatusFromIntent(intentStatus string, received, due money.Money) Status {
	switch intentStatus {
	case "succeeded":
		if received.LessThan(due) {
			return StatusUnderpaid
		}
		if received.GreaterThan(due) {
			return StatusOverpaid
		}
		return StatusPaid
	case "requires_action", "requires_confirmation":
		return StatusRequiresAction
	case "processing", "requires_capture":
		return StatusPending
	case "requires_payment_method", "canceled":
		return StatusFailed
	default:
		return StatusPending
	}
}

// MethodDetails is the settled payment method snapshot stored on the payment.
type MethodDetails struct {
	Type    string // "card", "customer_balance", "oxxo", ...
	Brand   string // "visa", "mastercard", empty for non-card types
	Last4   string
	Funding string // "credit", "debit", ...
}

// Payment is one attempt of a student paying a concept. It is never hard
// deleted; it is a financial record and is only ever updated.
type Payment struct {
	ID     uuid.UUID
	UserID uuid.UUID

	ConceptID   uuid.UUID
	ConceptName string // denormalized snapshot at creation

	// PaymentMethodID references the local payment_methods row once the
	// method is known; StripeMethodID is the gateway token.
	PaymentMethodID *uuid.UUID
	StripeMethodID  *string

	Amount         money.Money  // snapshot of the concept amount at creation
	AmountReceived *money.Money // set on settlement
	MethodDetails  *MethodDetails

	Status    Status
	IntentID  *string // gateway payment intent, once assigned
	SessionID *string // gateway checkout session, unique when present
	URL       *string // gateway-hosted checkout or receipt URL

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentMethod is a tokenized card/reference on file for a user.
type PaymentMethod struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	StripeID string // gateway token (pm_...), unique
	Type     string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
	Status   string // "active" or "detached"

	CreatedAt time.Time
}

// BillingUser is the slice of a user account the payment core needs.
// Account management itself lives outside this service.
type BillingUser struct {
	ID         uuid.UUID
	Name       string
	Email      string
	CustomerID string // gateway customer (cus_...), empty until created

	ControlNumber string
	Career        string
	Semester      int
	Tags          []string
}
