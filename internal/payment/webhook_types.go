package payment

import "github.com/campuspay/payments-service/internal/ledger"

// EventKind enumerates the normalized gateway events the state machine
// consumes. Provider-specific webhook types are collapsed into these five by
// the webhook processor.
type EventKind string

const (
	EventSessionCompleted      EventKind = "session_completed"
	EventSessionAsyncCompleted EventKind = "session_async_completed" // delayed methods: bank transfer, cash voucher
	EventPaymentMethodAttached EventKind = "payment_method_attached"
	EventRequiresAction        EventKind = "requires_action" // 3-D Secure, voucher pending
	EventFailedOrExpired       EventKind = "failed_or_expired"
)

// NormalizedEvent is the universal shape of an inbound gateway notification.
// Whatever the provider sends, the state machine only ever sees this.
type NormalizedEvent struct {
	Kind EventKind

	// EventID is the provider's unique delivery id (evt_...). It is the
	// primary idempotency key when present.
	EventID string

	SessionID  string
	IntentID   string
	MethodID   string
	CustomerID string

	// ConceptID comes from the session metadata on completion events.
	ConceptID string

	// ActionURL carries next-action / voucher info for RequiresAction.
	ActionURL string

	// FailureReason is the gateway's last error message, if any.
	FailureReason string
}

// LedgerType maps the event kind to its ledger event type.
func (k EventKind) LedgerType() ledger.EventType {
	switch k {
	case EventSessionCompleted:
		return ledger.EventSessionCompleted
	case EventSessionAsyncCompleted:
		return ledger.EventSessionAsyncCompleted
	case EventPaymentMethodAttached:
		return ledger.EventPaymentMethodAttached
	case EventRequiresAction:
		return ledger.EventRequiresAction
	default:
		return ledger.EventPaymentFailed
	}
}

// ledgerKey picks the idempotency key for the event: the provider event id
// when present; for RequiresAction the intent id, so repeated pending-action
// reminders for the same intent collapse into one notification.
func (e NormalizedEvent) ledgerKey() ledger.Key {
	if e.Kind == EventRequiresAction && e.IntentID != "" {
		return ledger.ExternalKey(e.IntentID)
	}
	return ledger.ExternalKey(e.EventID)
}
