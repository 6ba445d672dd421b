// Package stripe adapts the Stripe API to the payment core's Gateway port.
// Stripe types never cross the package boundary; identifiers are validated
// and errors translated before anything reaches the state machine.
package stripe

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/campuspay/payments-service/internal/payment"
)

// Config carries the checkout presentation settings and the per-call
// timeout applied to every Stripe request.
type Config struct {
	Currency   string // lowercase ISO code, e.g. "mxn"
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

type Gateway struct {
	client *client.API
	cfg    Config
}

// New builds a gateway on a dedicated client, not the package-global one, so
// tests and multiple keys can coexist.
func New(apiKey string, cfg Config) *Gateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &Gateway{client: sc, cfg: cfg}
}

// callCtx bounds one gateway operation. A slow Stripe call times out here
// and surfaces as a transient error instead of stalling the caller.
func (g *Gateway) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.cfg.Timeout)
}

func (g *Gateway) CreateCustomer(ctx context.Context, user payment.BillingUser) (string, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.CustomerParams{
		Name:  stripe.String(user.Name),
		Email: stripe.String(user.Email),
		Metadata: map[string]string{
			"user_id":        user.ID.String(),
			"control_number": user.ControlNumber,
		},
	}
	params.Context = ctx
	cus, err := g.client.Customers.New(params)
	if err != nil {
		return "", mapStripeError(err)
	}
	return cus.ID, nil
}

func (g *Gateway) CreateSetupSession(ctx context.Context, customerID string) (*payment.Session, error) {
	if err := payment.ValidateCustomerID(customerID); err != nil {
		return nil, err
	}
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSetup)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(g.cfg.SuccessURL),
		CancelURL:  stripe.String(g.cfg.CancelURL),
	}
	params.Context = ctx
	cs, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return toSession(cs), nil
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, customerID, conceptName string, amountMinor int64, conceptID uuid.UUID) (*payment.Session, error) {
	if err := payment.ValidateCustomerID(customerID); err != nil {
		return nil, err
	}
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	meta := map[string]string{"concept_id": conceptID.String()}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(g.cfg.SuccessURL),
		CancelURL:  stripe.String(g.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.cfg.Currency),
				UnitAmount: stripe.Int64(amountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(conceptName),
				},
			},
		}},
		// Metadata rides on both the session and the intent so every
		// webhook shape can recover the concept.
		Metadata: meta,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: meta,
		},
	}
	params.Context = ctx
	cs, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return toSession(cs), nil
}

// GetIntentAndCharge fetches the intent with its latest charge expanded in a
// single API call. The charge is nil when nothing settled yet.
func (g *Gateway) GetIntentAndCharge(ctx context.Context, intentID string) (*payment.Intent, *payment.Charge, error) {
	if err := payment.ValidateIntentID(intentID); err != nil {
		return nil, nil, err
	}
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	pi, err := g.client.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, nil, mapStripeError(err)
	}

	intent := &payment.Intent{
		ID:             pi.ID,
		Status:         string(pi.Status),
		AmountReceived: pi.AmountReceived,
	}
	var charge *payment.Charge
	if ch := pi.LatestCharge; ch != nil {
		charge = &payment.Charge{
			ID:         ch.ID,
			MethodID:   ch.PaymentMethod,
			ReceiptURL: ch.ReceiptURL,
			Details:    chargeDetails(ch),
		}
	}
	return intent, charge, nil
}

func (g *Gateway) GetSetupIntentFromSession(ctx context.Context, sessionID string) (*payment.SetupIntent, error) {
	if err := payment.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("setup_intent.payment_method")
	cs, err := g.client.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	if cs.SetupIntent == nil {
		return nil, nil
	}
	si := &payment.SetupIntent{ID: cs.SetupIntent.ID}
	if cs.SetupIntent.PaymentMethod != nil {
		si.MethodID = cs.SetupIntent.PaymentMethod.ID
	}
	return si, nil
}

func (g *Gateway) RetrievePaymentMethod(ctx context.Context, methodID string) (*payment.MethodInfo, error) {
	if err := payment.ValidateMethodID(methodID); err != nil {
		return nil, err
	}
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	pm, err := g.client.PaymentMethods.Get(methodID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	info := &payment.MethodInfo{ID: pm.ID, Type: string(pm.Type)}
	if pm.Card != nil {
		info.Brand = string(pm.Card.Brand)
		info.Last4 = pm.Card.Last4
		info.Funding = string(pm.Card.Funding)
		info.ExpMonth = int(pm.Card.ExpMonth)
		info.ExpYear = int(pm.Card.ExpYear)
	}
	return info, nil
}

func (g *Gateway) DeletePaymentMethod(ctx context.Context, methodID string) (bool, error) {
	if err := payment.ValidateMethodID(methodID); err != nil {
		return false, err
	}
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := g.client.PaymentMethods.Detach(methodID, params); err != nil {
		return false, mapStripeError(err)
	}
	return true, nil
}

// ExpireSessionIfPending expires the session only when it is still open.
// Expiring a completed session is a Stripe API error, so the status check
// comes first.
func (g *Gateway) ExpireSessionIfPending(ctx context.Context, sessionID string) (bool, error) {
	if err := payment.ValidateSessionID(sessionID); err != nil {
		return false, err
	}
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	cs, err := g.client.CheckoutSessions.Get(sessionID, getParams)
	if err != nil {
		return false, mapStripeError(err)
	}
	if cs.Status != stripe.CheckoutSessionStatusOpen {
		return false, nil
	}
	expParams := &stripe.CheckoutSessionExpireParams{}
	expParams.Context = ctx
	if _, err := g.client.CheckoutSessions.Expire(sessionID, expParams); err != nil {
		return false, mapStripeError(err)
	}
	return true, nil
}

// ListCustomerSessions pages through the customer's sessions. The iterator
// handles cursor pagination; the optional year becomes a created-time range
// filter so the API does the narrowing, not us.
func (g *Gateway) ListCustomerSessions(ctx context.Context, customerID string, year *int) ([]payment.Session, error) {
	if err := payment.ValidateCustomerID(customerID); err != nil {
		return nil, err
	}
	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	params := &stripe.CheckoutSessionListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)
	if year != nil {
		from := time.Date(*year, time.January, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(1, 0, 0)
		params.CreatedRange = &stripe.RangeQueryParams{
			GreaterThanOrEqual: from.Unix(),
			LesserThan:         to.Unix(),
		}
	}

	var out []payment.Session
	it := g.client.CheckoutSessions.List(params)
	for it.Next() {
		out = append(out, *toSession(it.CheckoutSession()))
	}
	if err := it.Err(); err != nil {
		return nil, mapStripeError(err)
	}
	return out, nil
}

func toSession(cs *stripe.CheckoutSession) *payment.Session {
	return &payment.Session{
		ID:          cs.ID,
		URL:         cs.URL,
		Status:      string(cs.Status),
		AmountTotal: cs.AmountTotal,
		Created:     time.Unix(cs.Created, 0),
	}
}

func chargeDetails(ch *stripe.Charge) payment.MethodDetails {
	d := payment.MethodDetails{}
	if pmd := ch.PaymentMethodDetails; pmd != nil {
		d.Type = string(pmd.Type)
		if pmd.Card != nil {
			d.Brand = string(pmd.Card.Brand)
			d.Last4 = pmd.Card.Last4
			d.Funding = string(pmd.Card.Funding)
		}
	}
	return d
}
