// Package server exposes the HTTP surface: the Stripe webhook endpoint and a
// small JSON API for student and staff actions.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/campuspay/payments-service/internal/concept"
	"github.com/campuspay/payments-service/internal/payment"
	"github.com/campuspay/payments-service/internal/payment/webhook"
)

// maxWebhookBody caps the request body; Stripe event payloads are far below
// this.
const maxWebhookBody = 1 << 16

// PaymentAPI is the slice of the payment service the handlers use.
type PaymentAPI interface {
	InitiatePayment(ctx context.Context, userID, conceptID uuid.UUID) (*payment.Payment, error)
	HandleEvent(ctx context.Context, ev payment.NormalizedEvent) error
	ManualReconcile(ctx context.Context, paymentID uuid.UUID) error
	CreateSetupSession(ctx context.Context, userID uuid.UUID) (*payment.Session, error)
	ResolveSetupSession(ctx context.Context, userID uuid.UUID, sessionID string) (*payment.PaymentMethod, error)
	DeleteMethod(ctx context.Context, userID, methodID uuid.UUID) error
	ListUserSessions(ctx context.Context, userID uuid.UUID, year *int) ([]payment.Session, error)
}

// ConceptAPI drives the concept lifecycle.
type ConceptAPI interface {
	Create(ctx context.Context, c *concept.Concept) error
	Update(ctx context.Context, c *concept.Concept) error
	ChangeStatus(ctx context.Context, id uuid.UUID, to concept.Status) error
}

// ConceptViews serves the student-facing eligibility queries.
type ConceptViews interface {
	GetByID(ctx context.Context, id uuid.UUID) (*concept.Concept, error)
	PendingForStudent(ctx context.Context, controlNumber string, now time.Time) ([]*concept.Concept, error)
	OverdueForStudent(ctx context.Context, controlNumber string, now time.Time) ([]*concept.Concept, error)
	EligibleStudents(ctx context.Context, conceptID uuid.UUID) ([]string, error)
}

type Server struct {
	payments  PaymentAPI
	concepts  ConceptAPI
	views     ConceptViews
	processor webhook.Processor
}

func New(payments PaymentAPI, concepts ConceptAPI, views ConceptViews, processor webhook.Processor) *Server {
	return &Server{payments: payments, concepts: concepts, views: views, processor: processor}
}

// Routes builds the mux. Method-qualified patterns keep dispatch in the
// stdlib router.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/stripe", s.handleWebhook)

	mux.HandleFunc("POST /api/payments", s.handleInitiatePayment)
	mux.HandleFunc("POST /api/payments/{id}/reconcile", s.handleManualReconcile)
	mux.HandleFunc("GET /api/users/{id}/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/users/{id}/setup-sessions", s.handleCreateSetupSession)
	mux.HandleFunc("POST /api/users/{id}/setup-sessions/resolve", s.handleResolveSetupSession)
	mux.HandleFunc("DELETE /api/users/{id}/methods/{methodID}", s.handleDeleteMethod)

	mux.HandleFunc("POST /api/concepts", s.handleCreateConcept)
	mux.HandleFunc("PUT /api/concepts/{id}", s.handleUpdateConcept)
	mux.HandleFunc("POST /api/concepts/{id}/status", s.handleChangeConceptStatus)
	mux.HandleFunc("GET /api/concepts/{id}/eligible", s.handleEligibleStudents)

	mux.HandleFunc("GET /api/students/{controlNumber}/pending", s.handlePendingConcepts)
	mux.HandleFunc("GET /api/students/{controlNumber}/overdue", s.handleOverdueConcepts)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// handleWebhook is the inbound gateway path. Status codes are the retry
// protocol: 2xx acknowledges (including duplicates), 4xx on an event that
// references state we do not have yet makes Stripe redeliver later, 5xx makes
// it redeliver after a transient failure.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxWebhookBody)
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	ev, err := s.processor.VerifyAndParse(body, map[string]string{
		"Stripe-Signature": r.Header.Get("Stripe-Signature"),
	})
	if err != nil {
		slog.Warn("webhook rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}
	if ev == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.payments.HandleEvent(r.Context(), *ev); err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			// Local record not committed yet. Ask for redelivery.
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		slog.Error("webhook handling failed", "event_id", ev.EventID, "kind", ev.Kind, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    uuid.UUID `json:"user_id"`
		ConceptID uuid.UUID `json:"concept_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := s.payments.InitiatePayment(r.Context(), req.UserID, req.ConceptID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse(p))
}

func (s *Server) handleManualReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.payments.ManualReconcile(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var year *int
	if y := r.URL.Query().Get("year"); y != "" {
		n, err := strconv.Atoi(y)
		if err != nil {
			http.Error(w, "invalid year", http.StatusBadRequest)
			return
		}
		year = &n
	}
	sessions, err := s.payments.ListUserSessions(r.Context(), id, year)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSetupSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	session, err := s.payments.CreateSetupSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleResolveSetupSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	m, err := s.payments.ResolveSetupSession(r.Context(), id, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	methodID, ok := pathUUID(w, r, "methodID")
	if !ok {
		return
	}
	if err := s.payments.DeleteMethod(r.Context(), userID, methodID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateConcept(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeConcept(w, r)
	if !ok {
		return
	}
	if err := s.concepts.Create(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": c.ID.String()})
}

func (s *Server) handleUpdateConcept(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	c, ok := decodeConcept(w, r)
	if !ok {
		return
	}
	c.ID = id
	if err := s.concepts.Update(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangeConceptStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status concept.Status `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.concepts.ChangeStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEligibleStudents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	students, err := s.views.EligibleStudents(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (s *Server) handlePendingConcepts(w http.ResponseWriter, r *http.Request) {
	s.studentConcepts(w, r, s.views.PendingForStudent)
}

func (s *Server) handleOverdueConcepts(w http.ResponseWriter, r *http.Request) {
	s.studentConcepts(w, r, s.views.OverdueForStudent)
}

func (s *Server) studentConcepts(w http.ResponseWriter, r *http.Request,
	query func(context.Context, string, time.Time) ([]*concept.Concept, error)) {
	cn := r.PathValue("controlNumber")
	if cn == "" {
		http.Error(w, "missing control number", http.StatusBadRequest)
		return
	}
	concepts, err := query(r.Context(), cn, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]conceptView, 0, len(concepts))
	for _, c := range concepts {
		out = append(out, toConceptView(c))
	}
	writeJSON(w, http.StatusOK, out)
}
