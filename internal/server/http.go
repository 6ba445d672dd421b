package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/concept"
	"github.com/campuspay/payments-service/internal/money"
	"github.com/campuspay/payments-service/internal/payment"
)

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps domain errors to HTTP status codes. Unmapped errors are a
// 500 with no detail leaked.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound),
		errors.Is(err, payment.ErrMethodNotFound),
		errors.Is(err, payment.ErrUserNotFound),
		errors.Is(err, concept.ErrConceptNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, payment.ErrOpenPaymentExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, payment.ErrNotEligible),
		errors.Is(err, payment.ErrInvalidExternalID),
		errors.Is(err, concept.ErrInvalidStatusTransition),
		errors.Is(err, concept.ErrNotUpdatable),
		errors.Is(err, concept.ErrEmptyName),
		errors.Is(err, concept.ErrAmountOutOfBounds),
		errors.Is(err, concept.ErrInvalidDateWindow),
		errors.Is(err, concept.ErrMissingTargets):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, payment.ErrRateLimited),
		errors.Is(err, payment.ErrGatewayUnavailable):
		http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// paymentView is the wire shape of a payment.
type paymentView struct {
	ID             uuid.UUID              `json:"id"`
	UserID         uuid.UUID              `json:"user_id"`
	ConceptID      uuid.UUID              `json:"concept_id"`
	ConceptName    string                 `json:"concept_name"`
	Amount         string                 `json:"amount"`
	AmountReceived *string                `json:"amount_received,omitempty"`
	Status         payment.Status         `json:"status"`
	Method         *payment.MethodDetails `json:"method,omitempty"`
	URL            *string                `json:"url,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

func paymentResponse(p *payment.Payment) paymentView {
	v := paymentView{
		ID:          p.ID,
		UserID:      p.UserID,
		ConceptID:   p.ConceptID,
		ConceptName: p.ConceptName,
		Amount:      p.Amount.String(),
		Status:      p.Status,
		Method:      p.MethodDetails,
		URL:         p.URL,
		CreatedAt:   p.CreatedAt,
	}
	if p.AmountReceived != nil {
		s := p.AmountReceived.String()
		v.AmountReceived = &s
	}
	return v
}

// conceptView is the wire shape of a concept, with the amount as a string.
type conceptView struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Amount      string            `json:"amount"`
	Status      concept.Status    `json:"status"`
	StartDate   time.Time         `json:"start_date"`
	EndDate     *time.Time        `json:"end_date,omitempty"`
	IsGlobal    bool              `json:"is_global"`
	AppliesTo   concept.AppliesTo `json:"applies_to"`
	Careers     []string          `json:"careers,omitempty"`
	Semesters   []int             `json:"semesters,omitempty"`
	StudentIDs  []string          `json:"student_ids,omitempty"`
	Exceptions  []string          `json:"exceptions,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
}

func toConceptView(c *concept.Concept) conceptView {
	return conceptView{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Amount:      c.Amount.String(),
		Status:      c.Status,
		StartDate:   c.StartDate,
		EndDate:     c.EndDate,
		IsGlobal:    c.IsGlobal,
		AppliesTo:   c.AppliesTo,
		Careers:     c.Careers,
		Semesters:   c.Semesters,
		StudentIDs:  c.StudentIDs,
		Exceptions:  c.Exceptions,
		Tags:        c.ApplicantTags,
	}
}

// decodeConcept parses the concept payload, converting the amount string
// through the money type so malformed amounts fail here, not in the store.
func decodeConcept(w http.ResponseWriter, r *http.Request) (*concept.Concept, bool) {
	var req conceptView
	if !decode(w, r, &req) {
		return nil, false
	}
	amount, err := money.From(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return nil, false
	}
	return &concept.Concept{
		ID:            req.ID,
		Name:          req.Name,
		Description:   req.Description,
		Amount:        amount,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		IsGlobal:      req.IsGlobal,
		AppliesTo:     req.AppliesTo,
		Careers:       req.Careers,
		Semesters:     req.Semesters,
		StudentIDs:    req.StudentIDs,
		Exceptions:    req.Exceptions,
		ApplicantTags: req.Tags,
	}, true
}
