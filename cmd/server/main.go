package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/campuspay/payments-service/internal/cache"
	"github.com/campuspay/payments-service/internal/concept"
	"github.com/campuspay/payments-service/internal/config"
	stripegw "github.com/campuspay/payments-service/internal/gateway/stripe"
	"github.com/campuspay/payments-service/internal/money"
	"github.com/campuspay/payments-service/internal/notify"
	"github.com/campuspay/payments-service/internal/payment"
	stripewh "github.com/campuspay/payments-service/internal/payment/webhook/stripe"
	"github.com/campuspay/payments-service/internal/server"
	"github.com/campuspay/payments-service/internal/store/postgres"
	"github.com/campuspay/payments-service/internal/worker"
	"github.com/campuspay/payments-service/pkg/logging"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	db, err := postgres.Open(cfg.DBURL())
	if err != nil {
		slog.Error("database startup failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database ready", "host", cfg.DBHost, "name", cfg.DBName)

	paymentStore := postgres.NewPaymentStore(db)
	methodStore := postgres.NewMethodStore(db)
	conceptStore := postgres.NewConceptStore(db)
	eventStore := postgres.NewEventStore(db)
	userStore := postgres.NewUserStore(db)

	notifier, err := notify.NewQueuePublisher(cfg.RabbitURL(), cfg.EmailQueue, cfg.NotifyJitterMax)
	if err != nil {
		slog.Error("rabbitmq connection failed", "error", err)
		os.Exit(1)
	}
	defer notifier.Close()
	slog.Info("notification queue ready", "queue", cfg.EmailQueue)

	var invalidator interface {
		payment.CacheInvalidator
		concept.CacheInvalidator
	} = cache.Noop{}
	if cfg.KafkaBroker != "" {
		ki := cache.NewKafkaInvalidator(cfg.KafkaBroker, cfg.KafkaTopic)
		defer ki.Close()
		invalidator = ki
		slog.Info("cache invalidation publisher ready", "broker", cfg.KafkaBroker, "topic", cfg.KafkaTopic)
	} else {
		slog.Warn("KAFKA_BROKER not set, cache invalidation disabled")
	}

	gateway := stripegw.New(cfg.StripeSecretKey, stripegw.Config{
		Currency:   cfg.Currency,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		Timeout:    cfg.GatewayTimeout,
	})

	limits, err := conceptLimits(cfg)
	if err != nil {
		slog.Error("invalid concept amount bounds", "error", err)
		os.Exit(1)
	}
	conceptSvc := concept.NewService(conceptStore, invalidator, limits)
	paymentSvc := payment.NewService(
		paymentStore, methodStore, userStore, conceptStore,
		gateway, eventStore, notifier, invalidator,
	)

	reconciler := worker.New(paymentSvc, paymentStore, conceptStore, eventStore, invalidator, worker.Config{
		Interval:      cfg.SweepInterval,
		PaidWindow:    cfg.PaidSweepWindow,
		StuckAfter:    cfg.PendingStuckAfter,
		RetentionDays: cfg.EventRetentionDays,
		BatchSize:     cfg.SweepBatchSize,
		WorkerCount:   cfg.SweepWorkers,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Start(ctx)
	}()

	processor := stripewh.New(cfg.StripeWebhookSecret)
	srv := server.New(paymentSvc, conceptSvc, conceptStore, processor)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		slog.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}

	cancel()
	wg.Wait()
	slog.Info("shutdown complete")
}

func conceptLimits(cfg *config.Config) (concept.Limits, error) {
	minAmount, err := money.From(cfg.MinConceptAmount)
	if err != nil {
		return concept.Limits{}, err
	}
	maxAmount, err := money.From(cfg.MaxConceptAmount)
	if err != nil {
		return concept.Limits{}, err
	}
	return concept.Limits{MinAmount: minAmount, MaxAmount: maxAmount}, nil
}
