package incident

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	guardian "github.com/pintubhai440/secure-recoder/internal/domain/guardian"
)

// incidentsTable is the remote table name.
const incidentsTable = "incidents"

// RemoteStore mirrors incident records to the remote datastore over its REST
// API. Built without credentials it is disabled and every call returns
// ErrNotConfigured; the tiered store then runs on the local journal alone.
type RemoteStore struct {
	// baseURL is the datastore root, e.g. https://project.example.co.
	baseURL string
	// apiKey authenticates every request.
	apiKey string
	// httpClient performs the requests.
	httpClient *http.Client
	// disabled short-circuits all calls when credentials are missing.
	disabled bool
}

// NewRemoteStore builds the REST client. Missing URL or key produce a
// disabled store.
func NewRemoteStore(baseURL, apiKey string, timeout time.Duration) *RemoteStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &RemoteStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		disabled: baseURL == "" || apiKey == "",
	}
}

// Configured reports whether the store can reach the remote service.
func (r *RemoteStore) Configured() bool {
	return !r.disabled
}

// remoteRecord is the wire shape of an incident row.
type remoteRecord struct {
	ID             json.Number `json:"id,omitempty"`
	CapturedAt     time.Time   `json:"captured_at"`
	FrameSnapshot  string      `json:"frame_snapshot,omitempty"`
	Classification string      `json:"classification"`
	ThreatLevel    string      `json:"threat_level"`
	EvidenceURL    string      `json:"evidence_url"`
	Status         string      `json:"status"`
}

// Create inserts a record and returns the identifier assigned by the remote
// store.
func (r *RemoteStore) Create(ctx context.Context, record *guardian.Incident) (string, error) {
	if r.disabled {
		return "", ErrNotConfigured
	}

	payload := remoteRecord{
		CapturedAt:     record.CapturedAt.UTC(),
		FrameSnapshot:  base64.StdEncoding.EncodeToString(record.FrameSnapshot),
		Classification: record.Classification,
		ThreatLevel:    string(record.ThreatLevel),
		EvidenceURL:    record.EvidenceURL,
		Status:         string(record.Status),
	}

	body, err := json.Marshal([]remoteRecord{payload})
	if err != nil {
		return "", fmt.Errorf("encode incident: %w", err)
	}

	req, err := r.newRequest(ctx, http.MethodPost, r.tableURL(nil), body)
	if err != nil {
		return "", err
	}

	req.Header.Set("Prefer", "return=representation")

	var inserted []remoteRecord
	if err := r.do(req, &inserted); err != nil {
		return "", err
	}

	if len(inserted) == 0 || inserted[0].ID.String() == "" {
		return "", fmt.Errorf("create incident: %w", ErrNotFound)
	}

	return inserted[0].ID.String(), nil
}

// Update patches the named columns of an existing record.
func (r *RemoteStore) Update(ctx context.Context, id string, fields UpdateFields) error {
	if r.disabled {
		return ErrNotConfigured
	}

	patch := map[string]any{}

	if fields.Classification != nil {
		patch["classification"] = *fields.Classification
	}

	if fields.EvidenceURL != nil {
		patch["evidence_url"] = *fields.EvidenceURL
	}

	if fields.Status != nil {
		patch["status"] = string(*fields.Status)
	}

	if len(patch) == 0 {
		return nil
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	query := url.Values{"id": {"eq." + id}}

	req, err := r.newRequest(ctx, http.MethodPatch, r.tableURL(query), body)
	if err != nil {
		return err
	}

	return r.do(req, nil)
}

// List returns up to limit records, newest first.
func (r *RemoteStore) List(ctx context.Context, limit int) ([]*guardian.Incident, error) {
	if r.disabled {
		return nil, ErrNotConfigured
	}

	query := url.Values{
		"select": {"*"},
		"order":  {"captured_at.desc"},
	}

	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	req, err := r.newRequest(ctx, http.MethodGet, r.tableURL(query), nil)
	if err != nil {
		return nil, err
	}

	var rows []remoteRecord
	if err := r.do(req, &rows); err != nil {
		return nil, err
	}

	records := make([]*guardian.Incident, 0, len(rows))

	for _, row := range rows {
		frame, _ := base64.StdEncoding.DecodeString(row.FrameSnapshot)

		records = append(records, &guardian.Incident{
			ID:             row.ID.String(),
			CapturedAt:     row.CapturedAt,
			FrameSnapshot:  frame,
			Classification: row.Classification,
			ThreatLevel:    guardian.ThreatLevel(row.ThreatLevel),
			EvidenceURL:    row.EvidenceURL,
			Status:         guardian.IncidentStatus(row.Status),
		})
	}

	return records, nil
}

// Purge bulk-clears the remote table.
func (r *RemoteStore) Purge(ctx context.Context) error {
	if r.disabled {
		return ErrNotConfigured
	}

	query := url.Values{"id": {"not.is.null"}}

	req, err := r.newRequest(ctx, http.MethodDelete, r.tableURL(query), nil)
	if err != nil {
		return err
	}

	return r.do(req, nil)
}

// tableURL builds the REST endpoint for the incidents table.
func (r *RemoteStore) tableURL(query url.Values) string {
	endpoint := r.baseURL + "/rest/v1/" + incidentsTable
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return endpoint
}

// newRequest builds an authenticated request.
func (r *RemoteStore) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// do performs the request and decodes the response into out when provided.
func (r *RemoteStore) do(req *http.Request, out any) error {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call incident store: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("incident store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil || len(payload) == 0 {
		return nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
