package guardian

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
	"github.com/pintubhai440/secure-recoder/internal/logger"
	svc "github.com/pintubhai440/secure-recoder/internal/service/guardian"
	"github.com/pintubhai440/secure-recoder/internal/vision"
)

// DefaultIncidentLimit bounds incident listings when the client does not ask
// for a specific page size.
const DefaultIncidentLimit = 50

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	Snapshot() *domain.SessionState
	Enroll(ctx context.Context) (domain.Mode, error)
	ClearEnrollment(ctx context.Context) (domain.Mode, error)
	SetArmed(ctx context.Context, armed bool, actor *domain.Actor) (domain.Mode, error)
	Incidents(ctx context.Context, limit int) ([]*domain.Incident, error)
	PurgeIncidents(ctx context.Context) error
	Chat(ctx context.Context, message string) (string, error)
	Events(limit int) []domain.Event
	EventLog() *domain.EventLog
}

// Server exposes the guardian API over HTTP.
type Server struct {
	// service provides the business logic for guardian operations.
	service Service
	// router dispatches requests to the handlers below.
	router chi.Router
	// stream broadcasts event log entries to SSE subscribers.
	stream *EventStream
}

// NewServer wires the provided service implementation into an HTTP handler
// and subscribes the SSE stream to the service's event log.
func NewServer(service Service) *Server {
	s := &Server{
		service: service,
		router:  chi.NewRouter(),
		stream:  NewEventStream(),
	}

	service.EventLog().OnAppend(s.stream.Publish)

	s.router.Use(middleware.Recoverer)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/enroll", s.handleEnroll)
		r.Delete("/enroll", s.handleClearEnrollment)
		r.Post("/arm", s.handleArm)
		r.Post("/disarm", s.handleDisarm)
		r.Get("/incidents", s.handleIncidents)
		r.Post("/incidents/purge", s.handlePurgeIncidents)
		r.Post("/chat", s.handleChat)
		r.Get("/events", s.handleEvents)
		r.Get("/events/stream", s.stream.HandleSSE)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// actorPayload identifies the requesting user on arm and disarm calls.
type actorPayload struct {
	Hostname string `json:"hostname"`
	Username string `json:"username"`
}

// statusResponse reports the session state without internal references.
type statusResponse struct {
	Mode             domain.Mode   `json:"mode"`
	Enrolled         bool          `json:"enrolled"`
	AuditInFlight    bool          `json:"audit_in_flight"`
	ActiveIncidentID string        `json:"active_incident_id,omitempty"`
	PendingDisarm    bool          `json:"pending_disarm"`
	ArmedSince       *time.Time    `json:"armed_since,omitempty"`
	LastActor        *actorPayload `json:"last_actor,omitempty"`
}

// modeResponse reports the mode a control operation landed in.
type modeResponse struct {
	Mode domain.Mode `json:"mode"`
}

// errorResponse carries a failure description.
type errorResponse struct {
	Error string `json:"error"`
}

// armRequest is the body of arm and disarm calls.
type armRequest struct {
	Actor *actorPayload `json:"actor"`
}

// chatRequest is the body of an operator chat call.
type chatRequest struct {
	Message string `json:"message"`
}

// chatResponse carries the assistant's reply.
type chatResponse struct {
	Reply string `json:"reply"`
}

// incidentPayload is an incident record without its frame snapshot. Raw
// frames stay on the server; only metadata crosses the wire.
type incidentPayload struct {
	ID             string                `json:"id"`
	CapturedAt     time.Time             `json:"captured_at"`
	Classification string                `json:"classification,omitempty"`
	ThreatLevel    domain.ThreatLevel    `json:"threat_level"`
	EvidenceURL    string                `json:"evidence_url,omitempty"`
	Status         domain.IncidentStatus `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.service.Snapshot()

	response := statusResponse{
		Mode:             state.Mode,
		Enrolled:         state.Enrolled(),
		AuditInFlight:    state.AuditInFlight,
		ActiveIncidentID: state.ActiveIncidentID,
		PendingDisarm:    state.PendingDisarm,
		LastActor:        toActorPayload(state.LastActor),
	}

	if !state.ArmedSince.IsZero() {
		armedSince := state.ArmedSince
		response.ArmedSince = &armedSince
	}

	s.writeJSON(r.Context(), w, http.StatusOK, response)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	mode, err := s.service.Enroll(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, modeResponse{Mode: mode})
}

func (s *Server) handleClearEnrollment(w http.ResponseWriter, r *http.Request) {
	mode, err := s.service.ClearEnrollment(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, modeResponse{Mode: mode})
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	s.handleSetArmed(w, r, true)
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	s.handleSetArmed(w, r, false)
}

func (s *Server) handleSetArmed(w http.ResponseWriter, r *http.Request, armed bool) {
	var request armRequest

	// An absent body means an anonymous request.
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	var actor *domain.Actor
	if request.Actor != nil {
		actor = &domain.Actor{
			Hostname: request.Actor.Hostname,
			Username: request.Actor.Username,
		}
	}

	mode, err := s.service.SetArmed(r.Context(), armed, actor)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, modeResponse{Mode: mode})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, DefaultIncidentLimit)

	records, err := s.service.Incidents(r.Context(), limit)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	payload := make([]incidentPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, incidentPayload{
			ID:             record.ID,
			CapturedAt:     record.CapturedAt,
			Classification: record.Classification,
			ThreatLevel:    record.ThreatLevel,
			EvidenceURL:    record.EvidenceURL,
			Status:         record.Status,
		})
	}

	s.writeJSON(r.Context(), w, http.StatusOK, payload)
}

func (s *Server) handlePurgeIncidents(w http.ResponseWriter, r *http.Request) {
	if err := s.service.PurgeIncidents(r.Context()); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var request chatRequest

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if request.Message == "" {
		s.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	reply, err := s.service.Chat(r.Context(), request.Message)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	s.writeJSON(r.Context(), w, http.StatusOK, chatResponse{Reply: reply})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.service.Events(queryLimit(r, 0))

	s.writeJSON(r.Context(), w, http.StatusOK, events)
}

// writeError maps service errors onto HTTP statuses. Blocked state machine
// transitions are conflicts, an unconfigured vision service is unavailable,
// everything else is internal.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, svc.ErrEnrollmentRequired),
		errors.Is(err, svc.ErrAlertInProgress),
		errors.Is(err, svc.ErrFaulted):
		status = http.StatusConflict
	case errors.Is(err, vision.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logger.ErrorKV(ctx, "Request failed", "error", err)
	}

	s.writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.DebugKV(ctx, "Response write failed", "error", err)
	}
}

// queryLimit parses the limit query parameter, falling back on bad input.
func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}

	return limit
}

func toActorPayload(actor *domain.Actor) *actorPayload {
	if actor == nil {
		return nil
	}

	return &actorPayload{
		Hostname: actor.Hostname,
		Username: actor.Username,
	}
}
