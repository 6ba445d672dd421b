// Package stripe maps Stripe webhook deliveries into normalized payment
// events after verifying their signature.
package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/campuspay/payments-service/internal/payment"
)

type Processor struct {
	secret string
}

func New(secret string) *Processor {
	return &Processor{secret: secret}
}

func (p *Processor) Provider() string {
	return "stripe"
}

// VerifyAndParse checks the signature against the endpoint secret and maps
// the event. Returns (nil, nil) for authentic events outside the consumed
// set, and an error when the signature does not verify.
func (p *Processor) VerifyAndParse(payload []byte, headers map[string]string) (*payment.NormalizedEvent, error) {
	event, err := webhook.ConstructEvent(payload, headers["Stripe-Signature"], p.secret)
	if err != nil {
		return nil, fmt.Errorf("stripe signature invalid: %w", err)
	}
	return mapEvent(event)
}

// mapEvent collapses the Stripe event taxonomy into the five kinds the state
// machine consumes. Split from VerifyAndParse so mapping is testable without
// producing real signatures.
func mapEvent(event stripe.Event) (*payment.NormalizedEvent, error) {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		cs, err := parseSession(event)
		if err != nil {
			return nil, err
		}
		if cs.Mode == stripe.CheckoutSessionModeSetup {
			// Setup sessions resolve through the save-card redirect flow,
			// not through the payment state machine.
			return nil, nil
		}
		kind := payment.EventSessionCompleted
		if event.Type == "checkout.session.async_payment_succeeded" {
			kind = payment.EventSessionAsyncCompleted
		}
		ev := &payment.NormalizedEvent{
			Kind:      kind,
			EventID:   event.ID,
			SessionID: cs.ID,
			ConceptID: cs.Metadata["concept_id"],
		}
		if cs.PaymentIntent != nil {
			ev.IntentID = cs.PaymentIntent.ID
		}
		if cs.Customer != nil {
			ev.CustomerID = cs.Customer.ID
		}
		return ev, nil

	case "checkout.session.expired", "checkout.session.async_payment_failed":
		cs, err := parseSession(event)
		if err != nil {
			return nil, err
		}
		ev := &payment.NormalizedEvent{
			Kind:          payment.EventFailedOrExpired,
			EventID:       event.ID,
			SessionID:     cs.ID,
			FailureReason: string(event.Type),
		}
		if cs.PaymentIntent != nil {
			ev.IntentID = cs.PaymentIntent.ID
		}
		return ev, nil

	case "payment_intent.requires_action":
		pi, err := parseIntent(event)
		if err != nil {
			return nil, err
		}
		ev := &payment.NormalizedEvent{
			Kind:      payment.EventRequiresAction,
			EventID:   event.ID,
			IntentID:  pi.ID,
			ActionURL: nextActionURL(pi),
		}
		if pi.Customer != nil {
			ev.CustomerID = pi.Customer.ID
		}
		return ev, nil

	case "payment_intent.payment_failed", "payment_intent.canceled":
		pi, err := parseIntent(event)
		if err != nil {
			return nil, err
		}
		ev := &payment.NormalizedEvent{
			Kind:     payment.EventFailedOrExpired,
			EventID:  event.ID,
			IntentID: pi.ID,
		}
		if pi.LastPaymentError != nil {
			ev.FailureReason = pi.LastPaymentError.Msg
		}
		return ev, nil

	case "payment_method.attached":
		var pm stripe.PaymentMethod
		if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
			return nil, fmt.Errorf("malformed payment_method payload: %w", err)
		}
		ev := &payment.NormalizedEvent{
			Kind:     payment.EventPaymentMethodAttached,
			EventID:  event.ID,
			MethodID: pm.ID,
		}
		if pm.Customer != nil {
			ev.CustomerID = pm.Customer.ID
		}
		return ev, nil
	}

	return nil, nil
}

func parseSession(event stripe.Event) (*stripe.CheckoutSession, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("malformed checkout.session payload: %w", err)
	}
	return &cs, nil
}

func parseIntent(event stripe.Event) (*stripe.PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("malformed payment_intent payload: %w", err)
	}
	return &pi, nil
}

// nextActionURL extracts the link the payer must visit, covering redirect
// (3-D Secure) and hosted voucher (OXXO) actions.
func nextActionURL(pi *stripe.PaymentIntent) string {
	if pi.NextAction == nil {
		return ""
	}
	if r := pi.NextAction.RedirectToURL; r != nil && r.URL != "" {
		return r.URL
	}
	if o := pi.NextAction.OXXODisplayDetails; o != nil {
		return o.HostedVoucherURL
	}
	return ""
}
