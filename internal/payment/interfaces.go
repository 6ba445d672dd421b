package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/concept"
)

// Session is a gateway-hosted checkout or setup session.
type Session struct {
	ID          string // cs_...
	URL         string // hosted page the student is redirected to
	Status      string // "open", "complete", "expired"
	AmountTotal int64  // minor units, zero for setup sessions
	Created     time.Time
}

// Intent is the gateway's view of a payment attempt.
type Intent struct {
	ID             string // pi_...
	Status         string // gateway status string, mapped via StatusFromIntent
	AmountReceived int64  // minor units actually settled
}

// Charge is the settled charge attached to an intent, if any.
type Charge struct {
	ID         string
	ReceiptURL string
	MethodID   string // pm_...
	Details    MethodDetails
}

// SetupIntent is the outcome of a setup session.
type SetupIntent struct {
	ID       string // seti_...
	MethodID string // pm_...
}

// MethodInfo is the gateway's record of a tokenized payment method.
type MethodInfo struct {
	ID       string // pm_...
	Type     string
	Brand    string
	Last4    string
	Funding  string
	ExpMonth int
	ExpYear  int
}

// Gateway abstracts the external payment processor. The core only defines
// and consumes this contract; the stripe adapter implements it. Every method
// takes a context for timeout and cancellation propagation, and validates
// identifier prefixes before going to the network.
type Gateway interface {
	CreateCustomer(ctx context.Context, user BillingUser) (customerID string, err error)
	CreateSetupSession(ctx context.Context, customerID string) (*Session, error)
	CreateCheckoutSession(ctx context.Context, customerID, conceptName string, amountMinor int64, conceptID uuid.UUID) (*Session, error)
	GetIntentAndCharge(ctx context.Context, intentID string) (*Intent, *Charge, error)
	GetSetupIntentFromSession(ctx context.Context, sessionID string) (*SetupIntent, error)
	RetrievePaymentMethod(ctx context.Context, methodID string) (*MethodInfo, error)
	DeletePaymentMethod(ctx context.Context, methodID string) (bool, error)

	// ExpireSessionIfPending expires a still-open session at the gateway.
	// Used instead of touching the local row when a partially settled
	// payment fails. Returns whether the session was actually expired.
	ExpireSessionIfPending(ctx context.Context, sessionID string) (bool, error)

	// ListCustomerSessions pages through all of a customer's sessions
	// transparently, optionally restricted to a calendar year.
	ListCustomerSessions(ctx context.Context, customerID string, year *int) ([]Session, error)
}

// Store handles persistence of payments. Mutations are plain field
// overwrites so that every handler retry converges on the same row.
type Store interface {
	// Create persists a new payment. It fails with ErrOpenPaymentExists if
	// a non-terminal payment already exists for (user, concept); the check
	// is a storage-level partial unique constraint, not a read-then-write.
	Create(ctx context.Context, p *Payment) error

	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*Payment, error)

	// Update overwrites the mutable payment fields.
	Update(ctx context.Context, p *Payment) error

	// UpdateWithMethod overwrites the payment and upserts the payment
	// method it references inside one transaction, so a crash cannot leave
	// a payment pointing at a nonexistent method.
	UpdateWithMethod(ctx context.Context, p *Payment, m *PaymentMethod) error

	// StreamPaidSince walks payments settled within the trailing window in
	// creation order, invoking fn per row without loading the full set
	// into memory. fn errors abort the stream.
	StreamPaidSince(ctx context.Context, since time.Time, fn func(*Payment) error) error

	// StreamStuckPending walks non-terminal payments not updated since the
	// given instant, oldest first. These are the attempts whose webhook
	// never arrived or never completed.
	StreamStuckPending(ctx context.Context, olderThan time.Time, fn func(*Payment) error) error
}

// MethodStore handles tokenized payment methods on file.
type MethodStore interface {
	// UpsertByStripeID inserts or refreshes the method identified by its
	// gateway token and returns the stored row.
	UpsertByStripeID(ctx context.Context, m *PaymentMethod) (*PaymentMethod, error)
	GetByID(ctx context.Context, id uuid.UUID) (*PaymentMethod, error)
	GetByStripeID(ctx context.Context, stripeID string) (*PaymentMethod, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// UserDirectory resolves the user data the payment core needs. Account
// management lives outside this service; this is a read-mostly port.
type UserDirectory interface {
	GetBillingUser(ctx context.Context, userID uuid.UUID) (*BillingUser, error)
	GetByCustomerID(ctx context.Context, customerID string) (*BillingUser, error)

	// SetCustomerID stores the gateway customer id after first creation.
	SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error
}

// ConceptReader is the narrow slice of the concept store the state machine
// needs when a student initiates a payment.
type ConceptReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*concept.Concept, error)
}

// CacheInvalidator signals that cached payment views are stale. All calls
// are best-effort, eventually-applied; the core never depends on their
// completion and never retries them synchronously.
type CacheInvalidator interface {
	InvalidateStudentPaymentViews(ctx context.Context, userIDs ...uuid.UUID) error
	InvalidateStaffDashboards(ctx context.Context) error
	InvalidateConceptCaches(ctx context.Context, conceptID uuid.UUID) error
}
