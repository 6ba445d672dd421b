package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/campuspay/payments-service/internal/concept"
	"github.com/campuspay/payments-service/internal/ledger"
	"github.com/campuspay/payments-service/internal/money"
	"github.com/campuspay/payments-service/internal/notify"
)

// minorUnitFactor converts between Money and the gateway's minor units.
const minorUnitFactor = 100

// Service is the payment state machine. Payments are mutated exclusively
// here, in response to normalized gateway events, student initiation and
// manual staff reconciliation. Every side-effecting path runs behind the
// event ledger so at-least-once webhook delivery stays idempotent.
type Service struct {
	payments Store
	methods  MethodStore
	users    UserDirectory
	concepts ConceptReader
	gateway  Gateway
	ledger   ledger.Ledger
	notifier notify.Notifier
	cache    CacheInvalidator

	// sf collapses concurrent initiations for the same (user, concept)
	// into a single flow, saving duplicate gateway sessions before the
	// storage constraint gets its say.
	sf singleflight.Group
}

func NewService(
	payments Store,
	methods MethodStore,
	users UserDirectory,
	concepts ConceptReader,
	gateway Gateway,
	eventLedger ledger.Ledger,
	notifier notify.Notifier,
	cache CacheInvalidator,
) *Service {
	return &Service{
		payments: payments,
		methods:  methods,
		users:    users,
		concepts: concepts,
		gateway:  gateway,
		ledger:   eventLedger,
		notifier: notifier,
		cache:    cache,
	}
}

// InitiatePayment starts a checkout for the student on the given concept:
// it validates eligibility, ensures a gateway customer exists, opens a
// hosted checkout session and records the pending payment.
func (s *Service) InitiatePayment(ctx context.Context, userID, conceptID uuid.UUID) (*Payment, error) {
	key := fmt.Sprintf("initiate_%s_%s", userID, conceptID)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.initiate(ctx, userID, conceptID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Payment), nil
}

func (s *Service) initiate(ctx context.Context, userID, conceptID uuid.UUID) (*Payment, error) {
	user, err := s.users.GetBillingUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	c, err := s.concepts.GetByID(ctx, conceptID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if c.Status != concept.StatusActive || !c.WindowContains(now) {
		return nil, fmt.Errorf("%w: concept %s is not open for payment", ErrNotEligible, c.Name)
	}
	profile := concept.StudentProfile{
		ControlNumber: user.ControlNumber,
		Career:        user.Career,
		Semester:      user.Semester,
		Tags:          user.Tags,
	}
	if !c.AppliesToStudent(profile) {
		return nil, ErrNotEligible
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, customerID, c.Name, c.Amount.MinorUnits(minorUnitFactor), c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	p := &Payment{
		ID:          uuid.New(),
		UserID:      userID,
		ConceptID:   c.ID,
		ConceptName: c.Name,
		Amount:      c.Amount.Finalize(money.CompareScale),
		Status:      StatusPending,
		SessionID:   &session.ID,
		URL:         &session.URL,
		CreatedAt:   now,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		// The partial unique index caught a concurrent open attempt.
		// The session we just opened is now orphaned; expire it so the
		// student cannot pay the same concept twice.
		if errors.Is(err, ErrOpenPaymentExists) {
			if _, eerr := s.gateway.ExpireSessionIfPending(ctx, session.ID); eerr != nil {
				slog.Warn("failed to expire orphaned session", "session_id", session.ID, "error", eerr)
			}
		}
		return nil, err
	}

	s.notifyOnce(ctx, ledger.PaymentKey(p.ID), ledger.EventEmailPaymentCreated, notify.Notification{
		Kind:        notify.PaymentCreated,
		UserName:    user.Name,
		UserEmail:   user.Email,
		ConceptName: p.ConceptName,
		Amount:      p.Amount.String(),
		Reference:   session.ID,
	})
	s.invalidateStudent(ctx, userID)
	return p, nil
}

// CreateSetupSession opens a gateway-hosted session for saving a card on
// file without charging it.
func (s *Service) CreateSetupSession(ctx context.Context, userID uuid.UUID) (*Session, error) {
	user, err := s.users.GetBillingUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.gateway.CreateSetupSession(ctx, customerID)
}

// ResolveSetupSession finishes the save-card flow after the gateway
// redirect: it resolves the setup intent of the session and stores the
// attached method for the user.
func (s *Service) ResolveSetupSession(ctx context.Context, userID uuid.UUID, sessionID string) (*PaymentMethod, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	si, err := s.gateway.GetSetupIntentFromSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if si == nil || si.MethodID == "" {
		return nil, fmt.Errorf("%w: session %s has no setup intent", ErrMethodNotFound, sessionID)
	}
	return s.upsertMethod(ctx, userID, si.MethodID)
}

// HandleEvent applies one normalized gateway event. It is the only inbound
// path for webhook deliveries.
//
// Shape: record in ledger -> bail out on processed duplicate -> handle ->
// mark processed. A handler error leaves the ledger row unprocessed and
// propagates, so the webhook endpoint can tell the gateway to redeliver;
// on redelivery the handler re-runs its idempotent field overwrites.
func (s *Service) HandleEvent(ctx context.Context, ev NormalizedEvent) error {
	rec, isNew, err := s.ledger.RecordIfNew(ctx, ev.ledgerKey(), ev.Kind.LedgerType())
	if err != nil {
		return fmt.Errorf("ledger record failed: %w", err)
	}
	if !isNew && rec.Processed {
		// Duplicate delivery of a handled event: success, no side effects.
		slog.Info("duplicate gateway event ignored", "event_id", ev.EventID, "kind", ev.Kind)
		return nil
	}

	switch ev.Kind {
	case EventSessionCompleted, EventSessionAsyncCompleted:
		err = s.handleSessionCompleted(ctx, ev)
	case EventPaymentMethodAttached:
		err = s.handleMethodAttached(ctx, ev)
	case EventRequiresAction:
		err = s.handleRequiresAction(ctx, ev)
	case EventFailedOrExpired:
		err = s.handleFailedOrExpired(ctx, ev)
	default:
		slog.Warn("unknown event kind acknowledged", "kind", ev.Kind)
	}
	if err != nil {
		return err
	}
	return s.ledger.MarkProcessed(ctx, rec.ID)
}

// handleSessionCompleted settles a payment: it fetches the intent and charge
// truth from the gateway, upserts the payment method, overwrites the payment
// fields and, when the result is paid, enqueues the confirmation exactly once.
func (s *Service) handleSessionCompleted(ctx context.Context, ev NormalizedEvent) error {
	p, err := s.payments.GetBySessionID(ctx, ev.SessionID)
	if err != nil {
		// We cannot synthesize a payment here: only the initiating request
		// had the concept context. Recoverable inconsistency; the caller
		// 404s so the gateway redelivers once the local record commits.
		slog.Error("session completed for unknown payment", "session_id", ev.SessionID, "concept_id", ev.ConceptID)
		return fmt.Errorf("%w: no payment for session %s", ErrPaymentNotFound, ev.SessionID)
	}
	if p.IntentID == nil && ev.IntentID != "" {
		p.IntentID = &ev.IntentID
	}

	if err := s.refreshFromGateway(ctx, p); err != nil {
		return err
	}

	if p.Status == StatusPaid {
		user, uerr := s.users.GetBillingUser(ctx, p.UserID)
		if uerr != nil {
			return uerr
		}
		s.notifyOnce(ctx, ledger.PaymentKey(p.ID), ledger.EventEmailPaymentValidated, notify.Notification{
			Kind:        notify.PaymentValidated,
			UserName:    user.Name,
			UserEmail:   user.Email,
			ConceptName: p.ConceptName,
			Amount:      p.Amount.String(),
			Reference:   deref(p.IntentID),
		})
	}
	s.invalidateStudent(ctx, p.UserID)
	return nil
}

// handleMethodAttached upserts a method row for the owning user. It never
// mutates a payment.
func (s *Service) handleMethodAttached(ctx context.Context, ev NormalizedEvent) error {
	user, err := s.users.GetByCustomerID(ctx, ev.CustomerID)
	if err != nil {
		return err
	}
	_, err = s.upsertMethod(ctx, user.ID, ev.MethodID)
	return err
}

// handleRequiresAction flags the payment as awaiting user action (3-D Secure
// challenge, voucher payment) and notifies with the gateway's next-action
// info. The ledger key is the intent id, so repeated deliveries for the same
// pending intent do not re-notify.
func (s *Service) handleRequiresAction(ctx context.Context, ev NormalizedEvent) error {
	p, err := s.resolvePayment(ctx, ev)
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		// Out-of-order delivery: the payment already settled. Ack without
		// touching it.
		slog.Info("stale requires-action event for settled payment ignored",
			"payment_id", p.ID, "status", p.Status, "event_id", ev.EventID)
		return nil
	}
	p.Status = StatusRequiresAction
	if err := s.payments.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	user, err := s.users.GetBillingUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	s.notifyOnce(ctx, ledger.PaymentKey(p.ID), ledger.EventEmailRequiresAction, notify.Notification{
		Kind:        notify.RequiresAction,
		UserName:    user.Name,
		UserEmail:   user.Email,
		ConceptName: p.ConceptName,
		Amount:      p.Amount.String(),
		Reference:   deref(p.IntentID),
		ActionURL:   ev.ActionURL,
	})
	s.invalidateStudent(ctx, p.UserID)
	return nil
}

// handleFailedOrExpired resolves the affected payment by intent or session
// id. A payment that already settled part of its amount is never discarded:
// the gateway session is expired explicitly and the row kept as Expired.
// With nothing received the payment is marked Failed.
func (s *Service) handleFailedOrExpired(ctx context.Context, ev NormalizedEvent) error {
	p, err := s.resolvePayment(ctx, ev)
	if err != nil {
		// No local record and no resolvable user: signal not-found so the
		// caller decides between a retryable 404 and an ack.
		return err
	}
	if p.Status.Terminal() {
		// A failure event arriving after settlement must never clobber the
		// settled status or expire the completed session. Ack and move on.
		slog.Info("stale failure event for settled payment ignored",
			"payment_id", p.ID, "status", p.Status, "event_id", ev.EventID)
		return nil
	}

	if p.AmountReceived != nil && !p.AmountReceived.IsZero() {
		// Partial settlement (e.g. an underpaid bank transfer the gateway
		// is separately expiring). Close the session at the gateway; the
		// local row is a financial record and stays.
		if p.SessionID != nil {
			if _, err := s.gateway.ExpireSessionIfPending(ctx, *p.SessionID); err != nil {
				return fmt.Errorf("failed to expire session %s: %w", *p.SessionID, err)
			}
		}
		p.Status = StatusExpired
	} else {
		p.Status = StatusFailed
	}
	if err := s.payments.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	user, err := s.users.GetBillingUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	s.notifyOnce(ctx, ledger.PaymentKey(p.ID), ledger.EventEmailPaymentFailed, notify.Notification{
		Kind:        notify.PaymentFailed,
		UserName:    user.Name,
		UserEmail:   user.Email,
		ConceptName: p.ConceptName,
		Amount:      p.Amount.String(),
		Reference:   deref(p.IntentID),
		Reason:      ev.FailureReason,
	})
	s.invalidateStudent(ctx, p.UserID)
	return nil
}

// ManualReconcile is the staff action: re-derive one payment from gateway
// truth through the same update path the webhooks use. Ledger-guarded, so
// a double-click does not double anything.
func (s *Service) ManualReconcile(ctx context.Context, paymentID uuid.UUID) error {
	rec, isNew, err := s.ledger.RecordIfNew(ctx, ledger.PaymentKey(paymentID), ledger.EventManualReconciled)
	if err != nil {
		return err
	}
	if !isNew && rec.Processed {
		return nil
	}
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := s.refreshFromGateway(ctx, p); err != nil {
		return err
	}
	s.invalidateStudent(ctx, p.UserID)
	return s.ledger.MarkProcessed(ctx, rec.ID)
}

// RefreshFromGateway re-derives the payment's fields from the gateway's
// authoritative intent+charge record. Used by the webhook path above and by
// the reconciliation sweep. All writes are field overwrites, so re-running
// it converges.
func (s *Service) RefreshFromGateway(ctx context.Context, p *Payment) error {
	return s.refreshFromGateway(ctx, p)
}

func (s *Service) refreshFromGateway(ctx context.Context, p *Payment) error {
	if p.IntentID == nil || *p.IntentID == "" {
		return fmt.Errorf("%w: payment %s has no intent id", ErrReconciliationInconsistency, p.ID)
	}
	intent, charge, err := s.gateway.GetIntentAndCharge(ctx, *p.IntentID)
	if err != nil {
		return err
	}

	received := money.FromMinorUnits(intent.AmountReceived, minorUnitFactor).Finalize(money.CompareScale)
	status := StatusFromIntent(intent.Status, received, p.Amount)

	if charge == nil || charge.MethodID == "" {
		switch status {
		case StatusPaid, StatusUnderpaid, StatusOverpaid:
			// Money was received; a settled intent without a resolvable
			// charge and method cannot be reconciled.
			if charge == nil {
				return fmt.Errorf("%w: intent %s has no charge", ErrReconciliationInconsistency, *p.IntentID)
			}
			return fmt.Errorf("%w: charge %s carries no payment method", ErrReconciliationInconsistency, charge.ID)
		}
		// Delayed methods (bank transfer, voucher) complete the session
		// before the charge exists. Record the intent's status and wait for
		// the settlement event.
		p.AmountReceived = &received
		p.Status = status
		if err := s.payments.Update(ctx, p); err != nil {
			return fmt.Errorf("failed to persist payment update: %w", err)
		}
		return nil
	}

	p.AmountReceived = &received
	p.Status = status
	p.MethodDetails = &charge.Details
	p.StripeMethodID = &charge.MethodID
	if charge.ReceiptURL != "" {
		p.URL = &charge.ReceiptURL
	}

	m := &PaymentMethod{
		ID:       uuid.New(),
		UserID:   p.UserID,
		StripeID: charge.MethodID,
		Type:     charge.Details.Type,
		Brand:    charge.Details.Brand,
		Last4:    charge.Details.Last4,
		Status:   "active",
	}
	// One transaction: the payment must never reference a method row that
	// was not written.
	if err := s.payments.UpdateWithMethod(ctx, p, m); err != nil {
		return fmt.Errorf("failed to persist payment update: %w", err)
	}
	if m.ID != uuid.Nil {
		p.PaymentMethodID = &m.ID
	}
	return nil
}

// DeleteMethod removes a saved method: detaches the token at the gateway,
// then deletes the local row. A gateway-side rejection of the token still
// deletes locally; the token is dead either way.
func (s *Service) DeleteMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	m, err := s.methods.GetByID(ctx, methodID)
	if err != nil {
		return err
	}
	if m.UserID != userID {
		return ErrMethodNotFound
	}
	if _, err := s.gateway.DeletePaymentMethod(ctx, m.StripeID); err != nil {
		if errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrRateLimited) {
			return err // transient: let the caller retry the whole action
		}
		slog.Warn("gateway detach rejected, deleting local method anyway",
			"method_id", methodID, "error", err)
	}
	return s.methods.Delete(ctx, methodID)
}

// ListUserSessions returns the user's gateway session history, optionally
// filtered to a calendar year.
func (s *Service) ListUserSessions(ctx context.Context, userID uuid.UUID, year *int) ([]Session, error) {
	user, err := s.users.GetBillingUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.CustomerID == "" {
		return nil, nil // no gateway customer: no history
	}
	return s.gateway.ListCustomerSessions(ctx, user.CustomerID, year)
}

// NotifyValidatedOnce enqueues the "payment validated" notification guarded
// by the given ledger event type. The sweep uses it with the reconciliation
// key so nightly re-runs never re-email an already-validated payment.
func (s *Service) NotifyValidatedOnce(ctx context.Context, p *Payment, t ledger.EventType) {
	user, err := s.users.GetBillingUser(ctx, p.UserID)
	if err != nil {
		slog.Warn("cannot notify: user lookup failed", "payment_id", p.ID, "error", err)
		return
	}
	s.notifyOnce(ctx, ledger.PaymentKey(p.ID), t, notify.Notification{
		Kind:        notify.PaymentValidated,
		UserName:    user.Name,
		UserEmail:   user.Email,
		ConceptName: p.ConceptName,
		Amount:      p.Amount.String(),
		Reference:   deref(p.IntentID),
	})
}

// ensureCustomer returns the user's gateway customer id, creating the
// customer on first use and persisting the id.
func (s *Service) ensureCustomer(ctx context.Context, user *BillingUser) (string, error) {
	if user.CustomerID != "" {
		return user.CustomerID, nil
	}
	customerID, err := s.gateway.CreateCustomer(ctx, *user)
	if err != nil {
		return "", fmt.Errorf("failed to create gateway customer: %w", err)
	}
	if err := s.users.SetCustomerID(ctx, user.ID, customerID); err != nil {
		return "", err
	}
	user.CustomerID = customerID
	return customerID, nil
}

// upsertMethod pulls the method details from the gateway and stores them.
func (s *Service) upsertMethod(ctx context.Context, userID uuid.UUID, methodID string) (*PaymentMethod, error) {
	info, err := s.gateway.RetrievePaymentMethod(ctx, methodID)
	if err != nil {
		return nil, err
	}
	return s.methods.UpsertByStripeID(ctx, &PaymentMethod{
		ID:       uuid.New(),
		UserID:   userID,
		StripeID: info.ID,
		Type:     info.Type,
		Brand:    info.Brand,
		Last4:    info.Last4,
		ExpMonth: info.ExpMonth,
		ExpYear:  info.ExpYear,
		Status:   "active",
	})
}

// resolvePayment finds the payment an event refers to, by intent id first,
// then session id.
func (s *Service) resolvePayment(ctx context.Context, ev NormalizedEvent) (*Payment, error) {
	if ev.IntentID != "" {
		if p, err := s.payments.GetByIntentID(ctx, ev.IntentID); err == nil {
			return p, nil
		}
	}
	if ev.SessionID != "" {
		if p, err := s.payments.GetBySessionID(ctx, ev.SessionID); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: intent=%q session=%q", ErrPaymentNotFound, ev.IntentID, ev.SessionID)
}

// notifyOnce submits a notification guarded by the ledger: at most one
// enqueue per (key, type), ever. Only the winner of the guard insert
// enqueues, so concurrent deliveries of the same event cannot double-send.
// Submission is fire and forget; a failed publish is logged and dropped. It
// never fails the surrounding payment update.
func (s *Service) notifyOnce(ctx context.Context, key ledger.Key, t ledger.EventType, n notify.Notification) {
	rec, isNew, err := s.ledger.RecordIfNew(ctx, key, t)
	if err != nil {
		slog.Error("notification guard failed", "type", t, "error", err)
		return
	}
	if !isNew {
		return
	}
	if err := s.notifier.Enqueue(ctx, n); err != nil {
		slog.Error("notification enqueue failed", "type", t, "kind", n.Kind, "error", err)
		return
	}
	if err := s.ledger.MarkProcessed(ctx, rec.ID); err != nil {
		slog.Error("failed to mark notification processed", "type", t, "error", err)
	}
}

// invalidateStudent signals the student's cached payment views and the staff
// dashboards. Best effort.
func (s *Service) invalidateStudent(ctx context.Context, userID uuid.UUID) {
	if err := s.cache.InvalidateStudentPaymentViews(ctx, userID); err != nil {
		slog.Warn("student cache invalidation failed", "user_id", userID, "error", err)
	}
	if err := s.cache.InvalidateStaffDashboards(ctx); err != nil {
		slog.Warn("staff cache invalidation failed", "error", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
