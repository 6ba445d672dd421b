// Package worker runs the reconciliation sweep: the safety net under the
// webhook path. Webhooks get lost, servers restart mid-handler, sessions
// expire silently. The sweep re-derives local state from gateway truth on a
// schedule so the database converges even when every push channel failed.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/ledger"
	"github.com/campuspay/payments-service/internal/payment"
)

// Refresher is the slice of the payment service the sweep drives.
type Refresher interface {
	RefreshFromGateway(ctx context.Context, p *payment.Payment) error
	NotifyValidatedOnce(ctx context.Context, p *payment.Payment, t ledger.EventType)
}

// PaymentSource streams the sweep's two candidate sets.
type PaymentSource interface {
	StreamPaidSince(ctx context.Context, since time.Time, fn func(*payment.Payment) error) error
	StreamStuckPending(ctx context.Context, olderThan time.Time, fn func(*payment.Payment) error) error
}

// ConceptFinalizer moves expired concepts out of Active.
type ConceptFinalizer interface {
	FinalizeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config tunes the sweep. Zero values are replaced with defaults in New.
type Config struct {
	Interval time.Duration // time between sweeps

	PaidWindow    time.Duration // how far back to re-verify settled payments
	StuckAfter    time.Duration // how stale a non-terminal payment must be
	RetentionDays int           // event ledger retention
	BatchSize     int           // max payments per sweep
	WorkerCount   int           // concurrent gateway fetches
}

type Reconciler struct {
	svc      Refresher
	payments PaymentSource
	concepts ConceptFinalizer
	ledger   ledger.Ledger
	cache    payment.CacheInvalidator
	cfg      Config
}

func New(
	svc Refresher,
	payments PaymentSource,
	concepts ConceptFinalizer,
	eventLedger ledger.Ledger,
	cache payment.CacheInvalidator,
	cfg Config,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 5
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	return &Reconciler{
		svc:      svc,
		payments: payments,
		concepts: concepts,
		ledger:   eventLedger,
		cache:    cache,
		cfg:      cfg,
	}
}

// Start runs the sweep loop until the context is cancelled. Blocking.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	slog.Info("reconciler started", "interval", r.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopping")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Safe to re-run at any time: every repair
// is a field overwrite and every notification is ledger-guarded, so a sweep
// interrupted by a restart just converges on the next run.
func (r *Reconciler) RunOnce(ctx context.Context) {
	start := time.Now()
	batch := r.collect(ctx)
	if len(batch) > 0 {
		r.processBatch(ctx, batch)
	}

	if n, err := r.concepts.FinalizeExpired(ctx, time.Now()); err != nil {
		slog.Error("concept finalization failed", "error", err)
	} else if n > 0 {
		slog.Info("finalized expired concepts", "count", n)
	}

	if n, err := r.ledger.PurgeOlderThan(ctx, r.cfg.RetentionDays); err != nil {
		slog.Error("event purge failed", "error", err)
	} else if n > 0 {
		slog.Info("purged old payment events", "count", n)
	}

	slog.Info("sweep completed", "payments", len(batch), "duration", time.Since(start))
}

// collect gathers the sweep candidates: recently settled payments to
// re-verify, and non-terminal payments whose webhook never finished the job.
func (r *Reconciler) collect(ctx context.Context) []*payment.Payment {
	var (
		batch []*payment.Payment
		seen  = map[uuid.UUID]bool{}
	)
	errBatchFull := errors.New("batch full")
	add := func(p *payment.Payment) error {
		if len(batch) >= r.cfg.BatchSize {
			return errBatchFull
		}
		if !seen[p.ID] {
			seen[p.ID] = true
			batch = append(batch, p)
		}
		return nil
	}

	olderThan := time.Now().Add(-r.cfg.StuckAfter)
	if err := r.payments.StreamStuckPending(ctx, olderThan, add); err != nil && !errors.Is(err, errBatchFull) {
		slog.Error("failed to stream stuck payments", "error", err)
	}
	since := time.Now().Add(-r.cfg.PaidWindow)
	if err := r.payments.StreamPaidSince(ctx, since, add); err != nil && !errors.Is(err, errBatchFull) {
		slog.Error("failed to stream settled payments", "error", err)
	}
	return batch
}

func (r *Reconciler) processBatch(ctx context.Context, batch []*payment.Payment) {
	jobs := make(chan *payment.Payment, len(batch))

	var (
		mu       sync.Mutex
		affected []uuid.UUID
	)
	var wg sync.WaitGroup
	for w := 0; w < r.cfg.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if userID, changed := r.syncPayment(ctx, p); changed {
					mu.Lock()
					affected = append(affected, userID)
					mu.Unlock()
				}
			}
		}()
	}
	for _, p := range batch {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	if len(affected) == 0 {
		return
	}
	// One batched invalidation for the whole sweep, not one per payment.
	if err := r.cache.InvalidateStudentPaymentViews(ctx, affected...); err != nil {
		slog.Warn("student cache invalidation failed", "users", len(affected), "error", err)
	}
	if err := r.cache.InvalidateStaffDashboards(ctx); err != nil {
		slog.Warn("staff cache invalidation failed", "error", err)
	}
}

// syncPayment re-derives one payment and reports whether its status changed.
// Gateway throttling, outages and data inconsistencies are tolerated per
// payment: logged, skipped, retried on the next sweep. One bad row must not
// kill the batch.
func (r *Reconciler) syncPayment(ctx context.Context, p *payment.Payment) (uuid.UUID, bool) {
	before := p.Status
	if err := r.svc.RefreshFromGateway(ctx, p); err != nil {
		switch {
		case errors.Is(err, payment.ErrRateLimited),
			errors.Is(err, payment.ErrGatewayUnavailable),
			errors.Is(err, context.DeadlineExceeded):
			slog.Warn("payment sync deferred", "payment_id", p.ID, "error", err)
		case errors.Is(err, payment.ErrReconciliationInconsistency):
			slog.Error("payment inconsistent with gateway", "payment_id", p.ID, "status", before, "error", err)
		default:
			slog.Error("payment sync failed", "payment_id", p.ID, "error", err)
		}
		return uuid.Nil, false
	}

	if p.Status == payment.StatusPaid {
		// Guarded by (payment id, reconciliation.validated): a payment the
		// sweep has already announced is never announced again, no matter
		// how many sweeps re-verify it.
		r.svc.NotifyValidatedOnce(ctx, p, ledger.EventReconciliationValidated)
	}
	if p.Status != before {
		slog.Info("payment repaired", "payment_id", p.ID, "from", before, "to", p.Status)
		return p.UserID, true
	}
	return uuid.Nil, false
}
