package postgres

import "database/sql"

// schema runs on startup. Ordering matters: users before student_details and
// payments, payment_concepts before its targeting tables.
//
// Two constraints carry correctness guarantees the application code relies on:
//   - payments_open_attempt_uniq rejects a second non-terminal payment for the
//     same (user, concept) at the storage level.
//   - the payment_events partial unique indexes make event recording a true
//     first-writer-wins insert under concurrent webhook deliveries.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    stripe_customer_id TEXT UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS student_details (
    user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    control_number TEXT NOT NULL UNIQUE,
    career TEXT NOT NULL DEFAULT '',
    semester INT NOT NULL DEFAULT 0,
    tags TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS payment_concepts (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    amount NUMERIC(12,2) NOT NULL,
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    start_date TIMESTAMPTZ NOT NULL,
    end_date TIMESTAMPTZ,
    is_global BOOLEAN NOT NULL DEFAULT FALSE,
    applies_to TEXT NOT NULL DEFAULT 'ALL',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS concept_careers (
    concept_id UUID NOT NULL REFERENCES payment_concepts(id) ON DELETE CASCADE,
    career TEXT NOT NULL,
    PRIMARY KEY (concept_id, career)
);

CREATE TABLE IF NOT EXISTS concept_semesters (
    concept_id UUID NOT NULL REFERENCES payment_concepts(id) ON DELETE CASCADE,
    semester INT NOT NULL,
    PRIMARY KEY (concept_id, semester)
);

CREATE TABLE IF NOT EXISTS concept_students (
    concept_id UUID NOT NULL REFERENCES payment_concepts(id) ON DELETE CASCADE,
    control_number TEXT NOT NULL,
    PRIMARY KEY (concept_id, control_number)
);

CREATE TABLE IF NOT EXISTS concept_exceptions (
    concept_id UUID NOT NULL REFERENCES payment_concepts(id) ON DELETE CASCADE,
    control_number TEXT NOT NULL,
    PRIMARY KEY (concept_id, control_number)
);

CREATE TABLE IF NOT EXISTS concept_tags (
    concept_id UUID NOT NULL REFERENCES payment_concepts(id) ON DELETE CASCADE,
    tag TEXT NOT NULL,
    PRIMARY KEY (concept_id, tag)
);

CREATE TABLE IF NOT EXISTS payment_methods (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    stripe_payment_method_id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT '',
    brand TEXT NOT NULL DEFAULT '',
    last4 TEXT NOT NULL DEFAULT '',
    exp_month INT NOT NULL DEFAULT 0,
    exp_year INT NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payments (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id),
    concept_id UUID NOT NULL REFERENCES payment_concepts(id),
    concept_name TEXT NOT NULL,
    payment_method_id UUID REFERENCES payment_methods(id) ON DELETE SET NULL,
    stripe_method_id TEXT,
    amount NUMERIC(12,2) NOT NULL,
    amount_received NUMERIC(12,2),
    method_type TEXT,
    method_brand TEXT,
    method_last4 TEXT,
    method_funding TEXT,
    status TEXT NOT NULL DEFAULT 'PENDING',
    stripe_intent_id TEXT,
    stripe_session_id TEXT UNIQUE,
    url TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS payments_open_attempt_uniq
    ON payments (user_id, concept_id)
    WHERE status NOT IN ('PAID', 'FAILED', 'EXPIRED', 'OVERPAID');

CREATE INDEX IF NOT EXISTS payments_intent_idx ON payments (stripe_intent_id);
CREATE INDEX IF NOT EXISTS payments_status_updated_idx ON payments (status, updated_at);

CREATE TABLE IF NOT EXISTS payment_events (
    id UUID PRIMARY KEY,
    payment_id UUID,
    stripe_event_id TEXT,
    event_type TEXT NOT NULL,
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    retry_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (payment_id IS NOT NULL OR stripe_event_id IS NOT NULL)
);

CREATE UNIQUE INDEX IF NOT EXISTS payment_events_external_uniq
    ON payment_events (stripe_event_id, event_type)
    WHERE stripe_event_id IS NOT NULL;

CREATE UNIQUE INDEX IF NOT EXISTS payment_events_internal_uniq
    ON payment_events (payment_id, event_type)
    WHERE stripe_event_id IS NULL;

CREATE INDEX IF NOT EXISTS payment_events_created_idx ON payment_events (created_at);
`

// Migrate executes the schema setup.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
