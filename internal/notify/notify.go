// Package notify defines the typed notification payloads the payment core
// emits and the queue-backed publisher that carries them to the mail worker.
// Submissions are fire-and-forget: the state machine guards them with the
// event ledger so each is enqueued at most once, and a publish failure is
// logged by the caller, never retried synchronously.
package notify

import "context"

// Kind selects the email template on the consumer side.
type Kind string

const (
	PaymentCreated   Kind = "payment_created"
	PaymentValidated Kind = "payment_validated"
	PaymentFailed    Kind = "payment_failed"
	RequiresAction   Kind = "requires_action"
)

// Notification is one queued email job.
type Notification struct {
	Kind Kind `json:"kind"`

	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`

	ConceptName string `json:"concept_name"`
	Amount      string `json:"amount"` // finalized display amount

	// Reference is the gateway identifier (intent or session id) shown on
	// the receipt so support can correlate with the processor dashboard.
	Reference string `json:"reference,omitempty"`

	// Reason carries the failure message for PaymentFailed.
	Reason string `json:"reason,omitempty"`

	// ActionURL carries the 3-D Secure / voucher link for RequiresAction.
	ActionURL string `json:"action_url,omitempty"`
}

// Notifier submits a notification to the asynchronous mail queue.
type Notifier interface {
	Enqueue(ctx context.Context, n Notification) error
}
