package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the payments service.
// It is loaded once at startup and threaded explicitly into the components
// that need it. There is no ambient global lookup.
type Config struct {
	// HTTP
	ListenAddr string

	// Database (PostgreSQL)
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	// RabbitMQ (notification jobs)
	RabbitUser     string
	RabbitPassword string
	RabbitHost     string
	RabbitPort     string
	EmailQueue     string

	// Kafka (cache-invalidation events)
	KafkaBroker string
	KafkaTopic  string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	Currency            string

	// Domain knobs
	MinConceptAmount   string        // lower bound for a concept amount, exclusive
	MaxConceptAmount   string        // upper bound for a concept amount, inclusive
	EventRetentionDays int           // payment_events rows older than this are purged
	PaidSweepWindow    time.Duration // trailing window of paid payments the sweep audits
	PendingStuckAfter  time.Duration // a pending payment older than this is considered stuck
	SweepInterval      time.Duration
	SweepBatchSize     int
	SweepWorkers       int
	NotifyJitterMax    time.Duration // upper bound for the random delay on queued notifications
	GatewayTimeout     time.Duration // per-call timeout for gateway requests
}

// Load reads configuration from the environment. Only the Stripe secrets are
// hard requirements; infrastructure endpoints fall back to local defaults and
// domain knobs fall back to production values.
func Load() (*Config, error) {
	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "campuspay"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),

		RabbitUser:     getEnv("RABBITMQ_USER", "guest"),
		RabbitPassword: getEnv("RABBITMQ_PASSWORD", "guest"),
		RabbitHost:     getEnv("RABBITMQ_HOST", "localhost"),
		RabbitPort:     getEnv("RABBITMQ_PORT", "5672"),
		EmailQueue:     getEnv("EMAIL_QUEUE", "payment_emails"),

		KafkaBroker: os.Getenv("KAFKA_BROKER"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "cache.invalidations"),

		StripeSecretKey:     stripeKey,
		StripeWebhookSecret: webhookSecret,
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "https://portal.campuspay.mx/payments/success"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", "https://portal.campuspay.mx/payments/cancel"),
		Currency:            getEnv("CURRENCY", "mxn"),

		MinConceptAmount:   getEnv("MIN_CONCEPT_AMOUNT", "10"),
		MaxConceptAmount:   getEnv("MAX_CONCEPT_AMOUNT", "25000.00"),
		EventRetentionDays: getEnvInt("EVENT_RETENTION_DAYS", 90),
		PaidSweepWindow:    getEnvDuration("PAID_SWEEP_WINDOW", 30*24*time.Hour),
		PendingStuckAfter:  getEnvDuration("PENDING_STUCK_AFTER", 24*time.Hour),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 24*time.Hour),
		SweepBatchSize:     getEnvInt("SWEEP_BATCH_SIZE", 200),
		SweepWorkers:       getEnvInt("SWEEP_WORKERS", 5),
		NotifyJitterMax:    getEnvDuration("NOTIFY_JITTER_MAX", 90*time.Second),
		GatewayTimeout:     getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
	}, nil
}

// DBURL formats the config into a PostgreSQL connection string.
func (c *Config) DBURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// RabbitURL formats the config into an AMQP connection string.
func (c *Config) RabbitURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		c.RabbitUser, c.RabbitPassword, c.RabbitHost, c.RabbitPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
