package ledger

// EventType tags a payment event in the ledger. The namespace prefix tells
// apart gateway webhooks, sweep repairs, staff actions and queued emails.
type EventType string

const (
	// Gateway-originated webhook events. Keyed by the external event id.
	EventSessionCompleted      EventType = "webhook.session_completed"
	EventSessionAsyncCompleted EventType = "webhook.session_async_completed"
	EventPaymentMethodAttached EventType = "webhook.payment_method_attached"
	EventRequiresAction        EventType = "webhook.requires_action"
	EventPaymentFailed         EventType = "webhook.payment_failed"

	// Internally-originated events. No stable external id exists, so these
	// are keyed by (payment_id, event_type).
	EventReconciliationValidated EventType = "reconciliation.validated"
	EventManualReconciled        EventType = "manual.reconciled"

	// Notification submissions, guarded so a retry of the surrounding
	// handler cannot enqueue the same email twice.
	EventEmailPaymentCreated   EventType = "email.payment_created"
	EventEmailPaymentValidated EventType = "email.payment_validated"
	EventEmailPaymentFailed    EventType = "email.payment_failed"
	EventEmailRequiresAction   EventType = "email.requires_action"
)
