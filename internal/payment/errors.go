package payment

import "errors"

var (
	// ErrPaymentNotFound is the signal the webhook endpoint uses to decide
	// between a 404 (ask the gateway to retry delivery) and a 200 ack.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrMethodNotFound matches standard 404 behavior.
	ErrMethodNotFound = errors.New("payment method not found")

	// ErrUserNotFound is returned when the directory has no such user.
	ErrUserNotFound = errors.New("user not found")

	// ErrOpenPaymentExists protects the single-open-attempt invariant:
	// at most one non-terminal payment per (user, concept).
	ErrOpenPaymentExists = errors.New("an open payment already exists for this concept")

	// ErrNotEligible is returned when a student initiates a payment for a
	// concept that does not apply to them or whose window is closed.
	ErrNotEligible = errors.New("concept does not apply to this student")

	// ErrInvalidExternalID is returned before any network call when a
	// gateway identifier does not carry its expected prefix.
	ErrInvalidExternalID = errors.New("external id has an unexpected prefix")

	// ErrGatewayUnavailable covers outages and 5xx responses from the
	// processor. Retryable.
	ErrGatewayUnavailable = errors.New("payment gateway is currently unavailable")

	// ErrRateLimited is the gateway throttling us. Retryable; the sweep
	// logs it and moves to the next row instead of aborting.
	ErrRateLimited = errors.New("payment gateway rate limit hit")

	// ErrGatewayRejected covers permanent gateway failures (invalid
	// request, declined card). Never retried.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")

	// ErrReconciliationInconsistency means gateway truth can not be
	// reconciled with local state (e.g. an intent with no charge). The
	// affected row is logged and skipped; the batch continues.
	ErrReconciliationInconsistency = errors.New("gateway state inconsistent with local payment")
)
