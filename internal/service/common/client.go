//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/pintubhai440/secure-recoder/internal/config"
	domain "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
)

// Client wraps the guardian daemon HTTP API with convenience helpers.
type Client struct {
	// baseURL is the daemon address, for example http://127.0.0.1:8465.
	baseURL string
	// httpClient performs the requests.
	httpClient *http.Client

	// callTimeout is the default timeout for individual API calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errActorRequired is returned when an actor is not provided but is required for the operation.
	errActorRequired = errors.New("actor must be provided")
)

// StatusReport mirrors the daemon's status response.
type StatusReport struct {
	// Mode is the current operating mode.
	Mode domain.Mode `json:"mode"`
	// Enrolled reports whether an owner reference exists.
	Enrolled bool `json:"enrolled"`
	// AuditInFlight reports whether an audit or alert is executing.
	AuditInFlight bool `json:"audit_in_flight"`
	// ActiveIncidentID identifies the in-flight incident, if any.
	ActiveIncidentID string `json:"active_incident_id,omitempty"`
	// PendingDisarm reports a disarm queued behind an alert.
	PendingDisarm bool `json:"pending_disarm"`
	// ArmedSince is when monitoring last started.
	ArmedSince *time.Time `json:"armed_since,omitempty"`
	// LastActor is who last armed or disarmed the session.
	LastActor *domain.Actor `json:"last_actor,omitempty"`
}

// IncidentRecord mirrors the daemon's incident listing entries.
type IncidentRecord struct {
	ID             string                `json:"id"`
	CapturedAt     time.Time             `json:"captured_at"`
	Classification string                `json:"classification,omitempty"`
	ThreatLevel    domain.ThreatLevel    `json:"threat_level"`
	EvidenceURL    string                `json:"evidence_url,omitempty"`
	Status         domain.IncidentStatus `json:"status"`
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	// StatusCode is the HTTP status the daemon answered with.
	StatusCode int
	// Message is the daemon's error description.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon answered %d", e.StatusCode)
	}

	return fmt.Sprintf("daemon answered %d: %s", e.StatusCode, e.Message)
}

// New creates a client for a guardian daemon listening at address
// (host:port or a full http URL).
func New(address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	baseURL := address
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		baseURL = "http://" + address
	}

	client := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{},
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Status retrieves the current session state.
func (c *Client) Status(ctx context.Context) (*StatusReport, error) {
	var report StatusReport

	if err := c.call(ctx, http.MethodGet, "/api/v1/status", nil, &report); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	return &report, nil
}

// Enroll captures the owner reference frame and arms monitoring.
func (c *Client) Enroll(ctx context.Context) (domain.Mode, error) {
	var response struct {
		Mode domain.Mode `json:"mode"`
	}

	if err := c.call(ctx, http.MethodPost, "/api/v1/enroll", nil, &response); err != nil {
		return "", fmt.Errorf("enroll: %w", err)
	}

	return response.Mode, nil
}

// ClearEnrollment drops the enrolled owner reference.
func (c *Client) ClearEnrollment(ctx context.Context) (domain.Mode, error) {
	var response struct {
		Mode domain.Mode `json:"mode"`
	}

	if err := c.call(ctx, http.MethodDelete, "/api/v1/enroll", nil, &response); err != nil {
		return "", fmt.Errorf("clear enrollment: %w", err)
	}

	return response.Mode, nil
}

// SetArmed arms or disarms monitoring on behalf of the given actor.
func (c *Client) SetArmed(ctx context.Context, actor *domain.Actor, armed bool) (domain.Mode, error) {
	if actor == nil {
		return "", errActorRequired
	}

	path := "/api/v1/disarm"
	if armed {
		path = "/api/v1/arm"
	}

	request := struct {
		Actor *domain.Actor `json:"actor"`
	}{Actor: actor}

	var response struct {
		Mode domain.Mode `json:"mode"`
	}

	if err := c.call(ctx, http.MethodPost, path, request, &response); err != nil {
		return "", fmt.Errorf("set armed state: %w", err)
	}

	return response.Mode, nil
}

// Incidents lists persisted incident records, newest first.
func (c *Client) Incidents(ctx context.Context, limit int) ([]IncidentRecord, error) {
	path := "/api/v1/incidents"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var records []IncidentRecord

	if err := c.call(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	return records, nil
}

// PurgeIncidents bulk-clears the incident log.
func (c *Client) PurgeIncidents(ctx context.Context) error {
	if err := c.call(ctx, http.MethodPost, "/api/v1/incidents/purge", nil, nil); err != nil {
		return fmt.Errorf("purge incidents: %w", err)
	}

	return nil
}

// Chat sends an operator message and returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	request := struct {
		Message string `json:"message"`
	}{Message: message}

	var response struct {
		Reply string `json:"reply"`
	}

	if err := c.call(ctx, http.MethodPost, "/api/v1/chat", request, &response); err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}

	return response.Reply, nil
}

// Events retrieves recent operator log entries, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]domain.Event, error) {
	path := "/api/v1/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var events []domain.Event

	if err := c.call(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	return events, nil
}

// call performs one API request and decodes the JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: response.StatusCode}

		var failure struct {
			Error string `json:"error"`
		}

		if decodeErr := json.NewDecoder(response.Body).Decode(&failure); decodeErr == nil {
			apiErr.Message = failure.Error
		}

		return apiErr
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
