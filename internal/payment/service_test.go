package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspay/payments-service/internal/concept"
	"github.com/campuspay/payments-service/internal/ledger"
	"github.com/campuspay/payments-service/internal/money"
	"github.com/campuspay/payments-service/internal/notify"
)

// ---- in-memory fakes -------------------------------------------------------

type fakeStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
	creates  int
	updates  int
	openErr  bool // next Create fails with ErrOpenPaymentExists
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: map[uuid.UUID]*Payment{}}
}

func (s *fakeStore) Create(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr {
		return ErrOpenPaymentExists
	}
	for _, existing := range s.payments {
		if existing.UserID == p.UserID && existing.ConceptID == p.ConceptID && !existing.Status.Terminal() {
			return ErrOpenPaymentExists
		}
	}
	cp := *p
	s.payments[p.ID] = &cp
	s.creates++
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPaymentNotFound
}

func (s *fakeStore) GetBySessionID(_ context.Context, sessionID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.SessionID != nil && *p.SessionID == sessionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *fakeStore) GetByIntentID(_ context.Context, intentID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.IntentID != nil && *p.IntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *fakeStore) Update(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *p
	s.payments[p.ID] = &cp
	s.updates++
	return nil
}

func (s *fakeStore) UpdateWithMethod(_ context.Context, p *Payment, m *PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *p
	s.payments[p.ID] = &cp
	s.updates++
	return nil
}

func (s *fakeStore) StreamPaidSince(_ context.Context, _ time.Time, fn func(*Payment) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Status == StatusPaid {
			if err := fn(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *fakeStore) StreamStuckPending(_ context.Context, olderThan time.Time, fn func(*Payment) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if !p.Status.Terminal() && p.UpdatedAt.Before(olderThan) {
			if err := fn(p); err != nil {
				return err
			}
		}
	}
	return nil
}

type fakeMethodStore struct {
	mu      sync.Mutex
	methods map[uuid.UUID]*PaymentMethod
	upserts int
}

func newFakeMethodStore() *fakeMethodStore {
	return &fakeMethodStore{methods: map[uuid.UUID]*PaymentMethod{}}
}

func (s *fakeMethodStore) UpsertByStripeID(_ context.Context, m *PaymentMethod) (*PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	for _, existing := range s.methods {
		if existing.StripeID == m.StripeID {
			existing.Brand, existing.Last4 = m.Brand, m.Last4
			cp := *existing
			return &cp, nil
		}
	}
	cp := *m
	s.methods[m.ID] = &cp
	return &cp, nil
}

func (s *fakeMethodStore) GetByID(_ context.Context, id uuid.UUID) (*PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.methods[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, ErrMethodNotFound
}

func (s *fakeMethodStore) GetByStripeID(_ context.Context, stripeID string) (*PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.methods {
		if m.StripeID == stripeID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrMethodNotFound
}

func (s *fakeMethodStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.methods, id)
	return nil
}

type fakeDirectory struct {
	mu    sync.Mutex
	users map[uuid.UUID]*BillingUser
}

func newFakeDirectory(users ...*BillingUser) *fakeDirectory {
	d := &fakeDirectory{users: map[uuid.UUID]*BillingUser{}}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeDirectory) GetBillingUser(_ context.Context, id uuid.UUID) (*BillingUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrUserNotFound
}

func (d *fakeDirectory) GetByCustomerID(_ context.Context, customerID string) (*BillingUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.CustomerID == customerID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (d *fakeDirectory) SetCustomerID(_ context.Context, id uuid.UUID, customerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		u.CustomerID = customerID
		return nil
	}
	return ErrUserNotFound
}

type fakeConceptReader struct {
	concepts map[uuid.UUID]*concept.Concept
}

func (r *fakeConceptReader) GetByID(_ context.Context, id uuid.UUID) (*concept.Concept, error) {
	if c, ok := r.concepts[id]; ok {
		return c, nil
	}
	return nil, concept.ErrConceptNotFound
}

// fakeGateway scripts the external processor.
type fakeGateway struct {
	mu sync.Mutex

	intent *Intent
	charge *Charge
	method *MethodInfo

	createdSessions int
	expiredSessions []string
	intentFetches   int
}

func (g *fakeGateway) CreateCustomer(_ context.Context, _ BillingUser) (string, error) {
	return "cus_new", nil
}

func (g *fakeGateway) CreateSetupSession(_ context.Context, _ string) (*Session, error) {
	return &Session{ID: "cs_setup", URL: "https://pay.example/setup"}, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, _ string, _ string, _ int64, _ uuid.UUID) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createdSessions++
	return &Session{ID: "cs_test_1", URL: "https://pay.example/cs_test_1"}, nil
}

func (g *fakeGateway) GetIntentAndCharge(_ context.Context, _ string) (*Intent, *Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intentFetches++
	return g.intent, g.charge, nil
}

func (g *fakeGateway) GetSetupIntentFromSession(_ context.Context, _ string) (*SetupIntent, error) {
	return &SetupIntent{ID: "seti_1", MethodID: "pm_saved"}, nil
}

func (g *fakeGateway) RetrievePaymentMethod(_ context.Context, id string) (*MethodInfo, error) {
	if g.method != nil {
		return g.method, nil
	}
	return &MethodInfo{ID: id, Type: "card", Brand: "visa", Last4: "4242"}, nil
}

func (g *fakeGateway) DeletePaymentMethod(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (g *fakeGateway) ExpireSessionIfPending(_ context.Context, sessionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expiredSessions = append(g.expiredSessions, sessionID)
	return true, nil
}

func (g *fakeGateway) ListCustomerSessions(_ context.Context, _ string, _ *int) ([]Session, error) {
	return nil, nil
}

// fakeLedger mirrors the postgres semantics: unique on key+type, processed
// flag flipped separately.
type fakeLedger struct {
	mu     sync.Mutex
	events map[string]*ledger.PaymentEvent
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{events: map[string]*ledger.PaymentEvent{}}
}

func (l *fakeLedger) keyOf(key ledger.Key, t ledger.EventType) string {
	if key.StripeEventID != "" {
		return "ext:" + key.StripeEventID + ":" + string(t)
	}
	return "pay:" + key.PaymentID.String() + ":" + string(t)
}

func (l *fakeLedger) RecordIfNew(_ context.Context, key ledger.Key, t ledger.EventType) (*ledger.PaymentEvent, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.keyOf(key, t)
	if ev, ok := l.events[k]; ok {
		cp := *ev
		return &cp, false, nil
	}
	ev := &ledger.PaymentEvent{ID: uuid.New(), EventType: t, CreatedAt: time.Now()}
	if key.StripeEventID != "" {
		id := key.StripeEventID
		ev.StripeEventID = &id
	} else {
		pid := key.PaymentID
		ev.PaymentID = &pid
	}
	l.events[k] = ev
	cp := *ev
	return &cp, true, nil
}

func (l *fakeLedger) MarkProcessed(_ context.Context, eventID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.ID == eventID {
			ev.Processed = true
			return nil
		}
	}
	return ledger.ErrEventNotFound
}

func (l *fakeLedger) ExistsProcessed(_ context.Context, key ledger.Key, t ledger.EventType) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev, ok := l.events[l.keyOf(key, t)]; ok {
		return ev.Processed, nil
	}
	return false, nil
}

func (l *fakeLedger) PurgeOlderThan(_ context.Context, _ int) (int64, error) { return 0, nil }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *fakeNotifier) Enqueue(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) ofKind(k notify.Kind) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, msg := range n.sent {
		if msg.Kind == k {
			out = append(out, msg)
		}
	}
	return out
}

type fakeInvalidator struct {
	mu       sync.Mutex
	students int
	staff    int
}

func (i *fakeInvalidator) InvalidateStudentPaymentViews(_ context.Context, _ ...uuid.UUID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.students++
	return nil
}

func (i *fakeInvalidator) InvalidateStaffDashboards(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.staff++
	return nil
}

func (i *fakeInvalidator) InvalidateConceptCaches(_ context.Context, _ uuid.UUID) error { return nil }

// ---- fixture ---------------------------------------------------------------

type fixture struct {
	svc      *Service
	store    *fakeStore
	methods  *fakeMethodStore
	dir      *fakeDirectory
	gateway  *fakeGateway
	ledger   *fakeLedger
	notifier *fakeNotifier
	cache    *fakeInvalidator

	user    *BillingUser
	concept *concept.Concept
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	user := &BillingUser{
		ID:            uuid.New(),
		Name:          "Ana Torres",
		Email:         "ana@example.edu",
		CustomerID:    "cus_existing",
		ControlNumber: "C100",
		Career:        "ISC",
		Semester:      3,
	}
	now := time.Now()
	deadline := now.Add(30 * 24 * time.Hour)
	c := &concept.Concept{
		ID:        uuid.New(),
		Name:      "Tuition 2026-1",
		Amount:    money.MustFrom("50.00"),
		Status:    concept.StatusActive,
		IsGlobal:  true,
		AppliesTo: concept.AppliesToAll,
		StartDate: now.Add(-24 * time.Hour),
		EndDate:   &deadline,
	}

	f := &fixture{
		store:    newFakeStore(),
		methods:  newFakeMethodStore(),
		dir:      newFakeDirectory(user),
		gateway:  &fakeGateway{},
		ledger:   newFakeLedger(),
		notifier: &fakeNotifier{},
		cache:    &fakeInvalidator{},
		user:     user,
		concept:  c,
	}
	f.svc = NewService(
		f.store, f.methods, f.dir,
		&fakeConceptReader{concepts: map[uuid.UUID]*concept.Concept{c.ID: c}},
		f.gateway, f.ledger, f.notifier, f.cache,
	)
	return f
}

func (f *fixture) seedPending(t *testing.T) *Payment {
	t.Helper()
	session, intent := "cs_test_1", "pi_test_1"
	p := &Payment{
		ID:          uuid.New(),
		UserID:      f.user.ID,
		ConceptID:   f.concept.ID,
		ConceptName: f.concept.Name,
		Amount:      money.MustFrom("50.00"),
		Status:      StatusPending,
		SessionID:   &session,
		IntentID:    &intent,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, f.store.Create(context.Background(), p))
	return p
}

func (f *fixture) scriptSettled(amountMinor int64) {
	f.gateway.intent = &Intent{ID: "pi_test_1", Status: "succeeded", AmountReceived: amountMinor}
	f.gateway.charge = &Charge{
		ID:         "ch_test_1",
		ReceiptURL: "https://pay.example/receipt",
		MethodID:   "pm_test_1",
		Details:    MethodDetails{Type: "card", Brand: "visa", Last4: "4242", Funding: "credit"},
	}
}

// ---- tests -----------------------------------------------------------------

func TestInitiatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending payment and notifies once", func(t *testing.T) {
		f := newFixture(t)
		p, err := f.svc.InitiatePayment(ctx, f.user.ID, f.concept.ID)
		require.NoError(t, err)

		assert.Equal(t, StatusPending, p.Status)
		assert.Equal(t, "50.00", p.Amount.String())
		require.NotNil(t, p.SessionID)
		assert.Equal(t, "cs_test_1", *p.SessionID)
		assert.Len(t, f.notifier.ofKind(notify.PaymentCreated), 1)
	})

	t.Run("second open attempt conflicts and expires its session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.InitiatePayment(ctx, f.user.ID, f.concept.ID)
		require.NoError(t, err)

		_, err = f.svc.InitiatePayment(ctx, f.user.ID, f.concept.ID)
		require.ErrorIs(t, err, ErrOpenPaymentExists)
		assert.Contains(t, f.gateway.expiredSessions, "cs_test_1")
		assert.Equal(t, 1, f.store.creates)
	})

	t.Run("student outside concept target is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.concept.IsGlobal = false
		f.concept.AppliesTo = concept.AppliesToCareer
		f.concept.Careers = []string{"LAE"}

		_, err := f.svc.InitiatePayment(ctx, f.user.ID, f.concept.ID)
		require.ErrorIs(t, err, ErrNotEligible)
		assert.Equal(t, 0, f.gateway.createdSessions)
	})

	t.Run("closed window is rejected", func(t *testing.T) {
		f := newFixture(t)
		past := time.Now().Add(-time.Hour)
		f.concept.EndDate = &past

		_, err := f.svc.InitiatePayment(ctx, f.user.ID, f.concept.ID)
		require.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("creates gateway customer on first use", func(t *testing.T) {
		f := newFixture(t)
		f.user.CustomerID = ""
		f.dir.users[f.user.ID].CustomerID = ""

		_, err := f.svc.InitiatePayment(ctx, f.user.ID, f.concept.ID)
		require.NoError(t, err)
		assert.Equal(t, "cus_new", f.dir.users[f.user.ID].CustomerID)
	})
}

func TestHandleSessionCompleted(t *testing.T) {
	ctx := context.Background()

	ev := NormalizedEvent{
		Kind:      EventSessionCompleted,
		EventID:   "evt_1",
		SessionID: "cs_test_1",
		IntentID:  "pi_test_1",
	}

	t.Run("settles payment with method details", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)
		f.scriptSettled(5000)

		require.NoError(t, f.svc.HandleEvent(ctx, ev))

		got, err := f.store.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, got.Status)
		require.NotNil(t, got.AmountReceived)
		assert.Equal(t, "50.00", got.AmountReceived.String())
		require.NotNil(t, got.MethodDetails)
		assert.Equal(t, "visa", got.MethodDetails.Brand)
		assert.Equal(t, "4242", got.MethodDetails.Last4)
		require.NotNil(t, got.StripeMethodID)
		assert.Equal(t, "pm_test_1", *got.StripeMethodID)

		assert.Len(t, f.notifier.ofKind(notify.PaymentValidated), 1)
	})

	t.Run("duplicate delivery causes no extra writes or emails", func(t *testing.T) {
		f := newFixture(t)
		f.seedPending(t)
		f.scriptSettled(5000)

		require.NoError(t, f.svc.HandleEvent(ctx, ev))
		writes, fetches := f.store.updates, f.gateway.intentFetches

		require.NoError(t, f.svc.HandleEvent(ctx, ev))
		assert.Equal(t, writes, f.store.updates)
		assert.Equal(t, fetches, f.gateway.intentFetches)
		assert.Len(t, f.notifier.ofKind(notify.PaymentValidated), 1)
	})

	t.Run("underpaid settlement is flagged", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)
		f.scriptSettled(2500)

		require.NoError(t, f.svc.HandleEvent(ctx, ev))

		got, _ := f.store.GetByID(ctx, p.ID)
		assert.Equal(t, StatusUnderpaid, got.Status)
		assert.Empty(t, f.notifier.ofKind(notify.PaymentValidated))
	})

	t.Run("unknown session reports not found for redelivery", func(t *testing.T) {
		f := newFixture(t)
		f.scriptSettled(5000)

		err := f.svc.HandleEvent(ctx, ev)
		require.ErrorIs(t, err, ErrPaymentNotFound)

		// The ledger row exists but stays unprocessed, so the redelivery
		// after the local record appears is handled, not skipped.
		processed, perr := f.ledger.ExistsProcessed(ctx, ledger.ExternalKey("evt_1"), ledger.EventSessionCompleted)
		require.NoError(t, perr)
		assert.False(t, processed)
	})

	t.Run("missing charge on a settled intent is a reconciliation inconsistency", func(t *testing.T) {
		f := newFixture(t)
		f.seedPending(t)
		f.gateway.intent = &Intent{ID: "pi_test_1", Status: "succeeded", AmountReceived: 5000}
		f.gateway.charge = nil

		err := f.svc.HandleEvent(ctx, ev)
		require.ErrorIs(t, err, ErrReconciliationInconsistency)
	})

	t.Run("delayed method without charge yet records the intent status", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)
		// Bank transfers complete the session before any charge exists.
		f.gateway.intent = &Intent{ID: "pi_test_1", Status: "processing", AmountReceived: 0}
		f.gateway.charge = nil

		require.NoError(t, f.svc.HandleEvent(ctx, ev))

		got, err := f.store.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status)
		assert.Nil(t, got.MethodDetails)
		assert.Empty(t, f.notifier.ofKind(notify.PaymentValidated))
	})

	t.Run("concurrent deliveries settle and notify exactly once", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)
		f.scriptSettled(5000)

		const deliveries = 8
		errs := make([]error, deliveries)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = f.svc.HandleEvent(ctx, ev)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		got, err := f.store.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, got.Status)
		assert.Len(t, f.notifier.ofKind(notify.PaymentValidated), 1)
	})
}

func TestHandleRequiresAction(t *testing.T) {
	ctx := context.Background()

	ev := NormalizedEvent{
		Kind:      EventRequiresAction,
		EventID:   "evt_ra_1",
		IntentID:  "pi_test_1",
		ActionURL: "https://pay.example/3ds",
	}

	t.Run("marks payment and notifies with action link", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)

		require.NoError(t, f.svc.HandleEvent(ctx, ev))

		got, _ := f.store.GetByID(ctx, p.ID)
		assert.Equal(t, StatusRequiresAction, got.Status)
		sent := f.notifier.ofKind(notify.RequiresAction)
		require.Len(t, sent, 1)
		assert.Equal(t, "https://pay.example/3ds", sent[0].ActionURL)
	})

	t.Run("redelivered reminders for the same intent notify once", func(t *testing.T) {
		f := newFixture(t)
		f.seedPending(t)

		require.NoError(t, f.svc.HandleEvent(ctx, ev))

		// Same intent, different provider event id: still one email.
		again := ev
		again.EventID = "evt_ra_2"
		require.NoError(t, f.svc.HandleEvent(ctx, again))

		assert.Len(t, f.notifier.ofKind(notify.RequiresAction), 1)
	})

	t.Run("late action event after settlement is ignored", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)
		f.scriptSettled(5000)
		require.NoError(t, f.svc.HandleEvent(ctx, NormalizedEvent{
			Kind: EventSessionCompleted, EventID: "evt_done", SessionID: "cs_test_1", IntentID: "pi_test_1",
		}))

		stale := ev
		stale.EventID = "evt_ra_late"
		require.NoError(t, f.svc.HandleEvent(ctx, stale))

		got, _ := f.store.GetByID(ctx, p.ID)
		assert.Equal(t, StatusPaid, got.Status)
		assert.Empty(t, f.notifier.ofKind(notify.RequiresAction))
	})
}

func TestHandleFailedOrExpired(t *testing.T) {
	ctx := context.Background()

	ev := NormalizedEvent{
		Kind:          EventFailedOrExpired,
		EventID:       "evt_f_1",
		IntentID:      "pi_test_1",
		SessionID:     "cs_test_1",
		FailureReason: "card_declined",
	}

	t.Run("nothing received marks failed with reason", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)

		require.NoError(t, f.svc.HandleEvent(ctx, ev))

		got, _ := f.store.GetByID(ctx, p.ID)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Empty(t, f.gateway.expiredSessions)

		sent := f.notifier.ofKind(notify.PaymentFailed)
		require.Len(t, sent, 1)
		assert.Equal(t, "card_declined", sent[0].Reason)
	})

	t.Run("partial settlement expires session and keeps the row", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)
		received := money.MustFrom("25.00")
		p.AmountReceived = &received
		require.NoError(t, f.store.Update(ctx, p))

		require.NoError(t, f.svc.HandleEvent(ctx, ev))

		got, err := f.store.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, got.Status)
		require.NotNil(t, got.AmountReceived)
		assert.Equal(t, "25.00", got.AmountReceived.String())
		assert.Equal(t, []string{"cs_test_1"}, f.gateway.expiredSessions)
	})

	t.Run("unknown payment reports not found", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.HandleEvent(ctx, ev)
		require.ErrorIs(t, err, ErrPaymentNotFound)
	})

	t.Run("late failure after settlement never clobbers the paid row", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)
		f.scriptSettled(5000)
		require.NoError(t, f.svc.HandleEvent(ctx, NormalizedEvent{
			Kind: EventSessionCompleted, EventID: "evt_done", SessionID: "cs_test_1", IntentID: "pi_test_1",
		}))
		writes := f.store.updates

		stale := ev
		stale.EventID = "evt_stale"
		require.NoError(t, f.svc.HandleEvent(ctx, stale))

		got, err := f.store.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, got.Status)
		assert.Equal(t, writes, f.store.updates)
		assert.Empty(t, f.gateway.expiredSessions)
		assert.Empty(t, f.notifier.ofKind(notify.PaymentFailed))
	})
}

func TestHandlePaymentMethodAttached(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts method without touching payments", func(t *testing.T) {
		f := newFixture(t)
		f.seedPending(t)

		ev := NormalizedEvent{
			Kind:       EventPaymentMethodAttached,
			EventID:    "evt_pm_1",
			MethodID:   "pm_attached",
			CustomerID: "cus_existing",
		}
		require.NoError(t, f.svc.HandleEvent(ctx, ev))

		m, err := f.methods.GetByStripeID(ctx, "pm_attached")
		require.NoError(t, err)
		assert.Equal(t, f.user.ID, m.UserID)
		assert.Equal(t, 0, f.store.updates)
	})
}

func TestManualReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("re-derives payment from gateway truth", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)
		f.scriptSettled(5000)

		require.NoError(t, f.svc.ManualReconcile(ctx, p.ID))

		got, _ := f.store.GetByID(ctx, p.ID)
		assert.Equal(t, StatusPaid, got.Status)
	})

	t.Run("double click reconciles once", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedPending(t)
		f.scriptSettled(5000)

		require.NoError(t, f.svc.ManualReconcile(ctx, p.ID))
		fetches := f.gateway.intentFetches
		require.NoError(t, f.svc.ManualReconcile(ctx, p.ID))
		assert.Equal(t, fetches, f.gateway.intentFetches)
	})
}

func TestResolveSetupSession(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the saved method", func(t *testing.T) {
		f := newFixture(t)
		m, err := f.svc.ResolveSetupSession(ctx, f.user.ID, "cs_setup")
		require.NoError(t, err)
		assert.Equal(t, "pm_saved", m.StripeID)
		assert.Equal(t, f.user.ID, m.UserID)
	})

	t.Run("rejects malformed session id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ResolveSetupSession(ctx, f.user.ID, "pi_wrong_namespace")
		require.ErrorIs(t, err, ErrInvalidExternalID)
	})
}

func TestDeleteMethod(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects another user's method", func(t *testing.T) {
		f := newFixture(t)
		m, err := f.methods.UpsertByStripeID(ctx, &PaymentMethod{
			ID: uuid.New(), UserID: uuid.New(), StripeID: "pm_other",
		})
		require.NoError(t, err)

		err = f.svc.DeleteMethod(ctx, f.user.ID, m.ID)
		require.ErrorIs(t, err, ErrMethodNotFound)
	})

	t.Run("detaches and deletes own method", func(t *testing.T) {
		f := newFixture(t)
		m, err := f.methods.UpsertByStripeID(ctx, &PaymentMethod{
			ID: uuid.New(), UserID: f.user.ID, StripeID: "pm_mine",
		})
		require.NoError(t, err)

		require.NoError(t, f.svc.DeleteMethod(ctx, f.user.ID, m.ID))
		_, err = f.methods.GetByID(ctx, m.ID)
		require.ErrorIs(t, err, ErrMethodNotFound)
	})
}
