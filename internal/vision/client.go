// Package vision is the client for the external vision-language service. It
// covers the two calls the guardian makes: describing a captured frame
// during an alert and answering free-form operator questions. Requests carry
// one key from a configured pool, chosen at random per attempt, and
// throttled or failing calls are retried through the resilience wrapper.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/pintubhai440/secure-recoder/internal/resilience"
)

// Role values for chat history entries.
const (
	// RoleUser marks operator messages.
	RoleUser = "user"
	// RoleModel marks service replies.
	RoleModel = "model"
)

// Message is one chat history entry.
type Message struct {
	// Role is RoleUser or RoleModel.
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
}

// Config holds the client settings.
type Config struct {
	// Endpoint is the base URL of the service API.
	Endpoint string
	// Model is the model identifier used for every call.
	Model string
	// APIKeys is the pool of keys; one is picked at random per attempt.
	APIKeys []string
	// MaxRetries bounds retries for throttled or failing calls.
	MaxRetries int
	// RetryBaseDelay is the initial backoff between attempts; zero keeps
	// the resilience package default.
	RetryBaseDelay time.Duration
	// Timeout is the per-request timeout.
	Timeout time.Duration
}

const (
	// defaultModel is used when the configuration names no model.
	defaultModel = "vision-flash-latest"
	// frameMIMEType is the content type reported for captured frames.
	frameMIMEType = "image/jpeg"
	// analyzePrompt asks the service to describe who was caught on camera.
	analyzePrompt = "Describe the person visible in this security camera frame: " +
		"appearance, clothing, and what they appear to be doing. Be concise."
)

var (
	// ErrNotConfigured is returned when the client was built without API
	// keys; every call short-circuits instead of reaching the network.
	ErrNotConfigured = errors.New("vision service is not configured")
	// errEmptyResponse is returned when the service answers without any
	// usable candidate text.
	errEmptyResponse = errors.New("vision service returned an empty response")
)

// Client calls the vision service over HTTP.
type Client struct {
	// cfg is the resolved configuration.
	cfg Config
	// httpClient performs the requests.
	httpClient *http.Client
	// disabled short-circuits all calls when credentials are missing.
	disabled bool
}

// NewClient builds a client from the configuration. Missing keys or endpoint
// produce a disabled client whose calls return ErrNotConfigured; the caller
// logs that condition once at startup.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		disabled: len(cfg.APIKeys) == 0 || cfg.Endpoint == "",
	}
}

// Configured reports whether the client can reach the service.
func (c *Client) Configured() bool {
	return !c.disabled
}

// Analyze asks the service for a text description of the captured frame.
func (c *Client) Analyze(ctx context.Context, image []byte) (string, error) {
	if c.disabled {
		return "", ErrNotConfigured
	}

	request := generateRequest{
		Contents: []content{
			{
				Role: RoleUser,
				Parts: []part{
					{Text: analyzePrompt},
					{
						InlineData: &inlineData{
							MIMEType: frameMIMEType,
							Data:     base64.StdEncoding.EncodeToString(image),
						},
					},
				},
			},
		},
	}

	return c.generate(ctx, request)
}

// Chat answers an operator message given the prior conversation. This is a
// separate user-facing path; it is not part of the alert workflow.
func (c *Client) Chat(ctx context.Context, history []Message, message string) (string, error) {
	if c.disabled {
		return "", ErrNotConfigured
	}

	contents := make([]content, 0, len(history)+1)

	for _, entry := range history {
		role := entry.Role
		if role != RoleUser && role != RoleModel {
			role = RoleUser
		}

		contents = append(contents, content{
			Role:  role,
			Parts: []part{{Text: entry.Content}},
		})
	}

	contents = append(contents, content{
		Role:  RoleUser,
		Parts: []part{{Text: message}},
	})

	return c.generate(ctx, generateRequest{Contents: contents})
}

// generate performs one generateContent call with retries. A fresh key is
// drawn per attempt so a throttled key rotates out of the pool naturally.
func (c *Client) generate(ctx context.Context, request generateRequest) (string, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var opts []resilience.Option
	if c.cfg.RetryBaseDelay > 0 {
		opts = append(opts, resilience.WithBaseDelay(c.cfg.RetryBaseDelay))
	}

	return resilience.Call(ctx, func(ctx context.Context) (string, error) {
		return c.attempt(ctx, body)
	}, c.cfg.MaxRetries, opts...)
}

// attempt performs a single request with a randomly selected key.
func (c *Client) attempt(ctx context.Context, body []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimSuffix(c.cfg.Endpoint, "/"), c.cfg.Model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.pickKey())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call vision service: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("vision service returned %d", resp.StatusCode)

		// Throttling and server-side failures are worth retrying with
		// another key; other client errors are not.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return "", err
		}

		return "", resilience.Permanent(err)
	}

	var decoded generateResponse
	if err = json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	text := decoded.text()
	if text == "" {
		return "", resilience.Permanent(errEmptyResponse)
	}

	return text, nil
}

// pickKey draws a random key from the pool.
func (c *Client) pickKey() string {
	return c.cfg.APIKeys[rand.Intn(len(c.cfg.APIKeys))]
}

// generateRequest is the generateContent request body.
type generateRequest struct {
	Contents []content `json:"contents"`
}

// content is one conversation turn.
type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

// part is a text or inline-image fragment of a turn.
type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

// inlineData carries base64-encoded binary payloads.
type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// generateResponse is the subset of the response the client consumes.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// text concatenates the first candidate's text parts.
func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}

	var sb strings.Builder

	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	return strings.TrimSpace(sb.String())
}
