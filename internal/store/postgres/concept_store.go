package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/concept"
	"github.com/campuspay/payments-service/internal/money"
)

type ConceptStore struct {
	db *sql.DB
}

func NewConceptStore(db *sql.DB) *ConceptStore {
	return &ConceptStore{db: db}
}

func (cs *ConceptStore) Create(ctx context.Context, c *concept.Concept) error {
	tx, err := cs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_concepts
			(id, name, description, amount, status, start_date, end_date, is_global, applies_to, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, c.ID, c.Name, c.Description, c.Amount.String(), c.Status,
		c.StartDate, c.EndDate, c.IsGlobal, c.AppliesTo)
	if err != nil {
		return fmt.Errorf("failed to insert concept: %w", err)
	}
	if err := replaceTargets(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func (cs *ConceptStore) Update(ctx context.Context, c *concept.Concept) error {
	tx, err := cs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE payment_concepts SET
			name = $2, description = $3, amount = $4,
			start_date = $5, end_date = $6, is_global = $7, applies_to = $8,
			updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Name, c.Description, c.Amount.String(),
		c.StartDate, c.EndDate, c.IsGlobal, c.AppliesTo)
	if err != nil {
		return fmt.Errorf("failed to update concept: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return concept.ErrConceptNotFound
	}
	if err := replaceTargets(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

// replaceTargets rewrites the targeting junction rows wholesale. Target lists
// are small (tens of entries) so delete-and-reinsert beats diffing.
func replaceTargets(ctx context.Context, tx *sql.Tx, c *concept.Concept) error {
	for _, table := range []string{
		"concept_careers", "concept_semesters", "concept_students",
		"concept_exceptions", "concept_tags",
	} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE concept_id = $1`, c.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	for _, career := range c.Careers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO concept_careers (concept_id, career) VALUES ($1, $2)`,
			c.ID, career); err != nil {
			return fmt.Errorf("failed to insert career target: %w", err)
		}
	}
	for _, sem := range c.Semesters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO concept_semesters (concept_id, semester) VALUES ($1, $2)`,
			c.ID, sem); err != nil {
			return fmt.Errorf("failed to insert semester target: %w", err)
		}
	}
	for _, cn := range c.StudentIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO concept_students (concept_id, control_number) VALUES ($1, $2)`,
			c.ID, cn); err != nil {
			return fmt.Errorf("failed to insert student target: %w", err)
		}
	}
	for _, cn := range c.Exceptions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO concept_exceptions (concept_id, control_number) VALUES ($1, $2)`,
			c.ID, cn); err != nil {
			return fmt.Errorf("failed to insert exception: %w", err)
		}
	}
	for _, tag := range c.ApplicantTags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO concept_tags (concept_id, tag) VALUES ($1, $2)`,
			c.ID, tag); err != nil {
			return fmt.Errorf("failed to insert tag target: %w", err)
		}
	}
	return nil
}

func (cs *ConceptStore) GetByID(ctx context.Context, id uuid.UUID) (*concept.Concept, error) {
	var (
		c       concept.Concept
		amount  string
		endDate sql.NullTime
	)
	err := cs.db.QueryRowContext(ctx, `
		SELECT id, name, description, amount, status, start_date, end_date,
		       is_global, applies_to, created_at, updated_at
		FROM payment_concepts WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Description, &amount, &c.Status,
		&c.StartDate, &endDate, &c.IsGlobal, &c.AppliesTo, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, concept.ErrConceptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load concept: %w", err)
	}
	c.Amount, err = money.From(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount on concept %s: %w", id, err)
	}
	if endDate.Valid {
		t := endDate.Time
		c.EndDate = &t
	}
	if err := cs.loadTargets(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (cs *ConceptStore) loadTargets(ctx context.Context, c *concept.Concept) error {
	if err := cs.loadStrings(ctx, `SELECT career FROM concept_careers WHERE concept_id = $1`, c.ID, &c.Careers); err != nil {
		return err
	}
	rows, err := cs.db.QueryContext(ctx,
		`SELECT semester FROM concept_semesters WHERE concept_id = $1`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load semester targets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sem int
		if err := rows.Scan(&sem); err != nil {
			return err
		}
		c.Semesters = append(c.Semesters, sem)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if err := cs.loadStrings(ctx, `SELECT control_number FROM concept_students WHERE concept_id = $1`, c.ID, &c.StudentIDs); err != nil {
		return err
	}
	if err := cs.loadStrings(ctx, `SELECT control_number FROM concept_exceptions WHERE concept_id = $1`, c.ID, &c.Exceptions); err != nil {
		return err
	}
	return cs.loadStrings(ctx, `SELECT tag FROM concept_tags WHERE concept_id = $1`, c.ID, &c.ApplicantTags)
}

func (cs *ConceptStore) loadStrings(ctx context.Context, query string, id uuid.UUID, dst *[]string) error {
	rows, err := cs.db.QueryContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return err
		}
		*dst = append(*dst, s)
	}
	return rows.Err()
}

// UpdateStatus is a compare-and-swap on the status column. Zero rows affected
// means a concurrent transition won; the caller's in-memory check already
// passed, so the only explanation is the row moved.
func (cs *ConceptStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to concept.Status) error {
	res, err := cs.db.ExecContext(ctx, `
		UPDATE payment_concepts SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update concept status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: concept %s is no longer %s", concept.ErrInvalidStatusTransition, id, from)
	}
	return nil
}

func (cs *ConceptStore) FinalizeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := cs.db.ExecContext(ctx, `
		UPDATE payment_concepts SET status = $1, updated_at = NOW()
		WHERE status = $2 AND end_date IS NOT NULL AND end_date < $3
	`, concept.StatusFinalized, concept.StatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("failed to finalize expired concepts: %w", err)
	}
	return res.RowsAffected()
}

// appliesClause is the SQL rendering of Concept.AppliesToStudent: OR'd EXISTS
// over the targeting tables, minus a NOT EXISTS on the exception list. The Go
// resolver and this clause must stay in agreement.
const appliesClause = `
	NOT EXISTS (
		SELECT 1 FROM concept_exceptions ce
		WHERE ce.concept_id = pc.id AND ce.control_number = sd.control_number
	)
	AND (
		pc.is_global
		OR EXISTS (
			SELECT 1 FROM concept_careers cc
			WHERE cc.concept_id = pc.id AND cc.career = sd.career
		)
		OR EXISTS (
			SELECT 1 FROM concept_semesters csm
			WHERE csm.concept_id = pc.id AND csm.semester = sd.semester
		)
		OR EXISTS (
			SELECT 1 FROM concept_students cst
			WHERE cst.concept_id = pc.id AND cst.control_number = sd.control_number
		)
		OR EXISTS (
			SELECT 1 FROM concept_tags ct
			WHERE ct.concept_id = pc.id AND ct.tag = ANY(sd.tags)
		)
	)`

func (cs *ConceptStore) PendingForStudent(ctx context.Context, controlNumber string, now time.Time) ([]*concept.Concept, error) {
	query := `
		SELECT pc.id FROM payment_concepts pc, student_details sd
		WHERE sd.control_number = $1
		  AND pc.status = $2
		  AND pc.start_date <= $3
		  AND (pc.end_date IS NULL OR pc.end_date >= $3)
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.concept_id = pc.id AND p.user_id = sd.user_id
		  )
		  AND ` + appliesClause + `
		ORDER BY pc.start_date ASC`
	return cs.queryConcepts(ctx, query, controlNumber, concept.StatusActive, now)
}

func (cs *ConceptStore) OverdueForStudent(ctx context.Context, controlNumber string, now time.Time) ([]*concept.Concept, error) {
	query := `
		SELECT pc.id FROM payment_concepts pc, student_details sd
		WHERE sd.control_number = $1
		  AND pc.status IN ($2, $3)
		  AND pc.end_date IS NOT NULL AND pc.end_date < $4
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.concept_id = pc.id AND p.user_id = sd.user_id
		  )
		  AND ` + appliesClause + `
		ORDER BY pc.end_date ASC`
	return cs.queryConcepts(ctx, query, controlNumber,
		concept.StatusActive, concept.StatusFinalized, now)
}

func (cs *ConceptStore) queryConcepts(ctx context.Context, query string, args ...any) ([]*concept.Concept, error) {
	rows, err := cs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query concepts: %w", err)
	}
	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*concept.Concept, 0, len(ids))
	for _, id := range ids {
		c, err := cs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (cs *ConceptStore) EligibleStudents(ctx context.Context, conceptID uuid.UUID) ([]string, error) {
	query := `
		SELECT sd.control_number
		FROM student_details sd, payment_concepts pc
		WHERE pc.id = $1 AND ` + appliesClause + `
		ORDER BY sd.control_number`
	rows, err := cs.db.QueryContext(ctx, query, conceptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible students: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var cn string
		if err := rows.Scan(&cn); err != nil {
			return nil, err
		}
		out = append(out, cn)
	}
	return out, rows.Err()
}
