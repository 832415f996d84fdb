package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/germanamz/geoprompt/pkg/modeladapter/usage"
)

// maxErrorBody caps how much of a failed response body is kept in a StatusError.
const maxErrorBody = 4 * 1024

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int    // Numeric HTTP status (e.g. 401).
	Status     string // Status text as sent by the server (e.g. "401 Unauthorized").
	Body       string // Leading part of the response body, if any.
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}

	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", status)
	}

	return fmt.Sprintf("unexpected status %s: %s", status, e.Body)
}

// Auth holds authentication settings for the endpoint.
type Auth struct {
	Key    string // Credential value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// headerValue returns the header name and value carrying the credential, or
// empty strings when no key is set.
func (a Auth) headerValue() (string, string) {
	if a.Key == "" {
		return "", ""
	}

	header := a.Header
	if header == "" {
		header = "Authorization"
	}

	scheme := a.Scheme
	if scheme == "" && header == "Authorization" {
		scheme = "Bearer"
	}

	if scheme == "" {
		return header, a.Key
	}

	return header, scheme + " " + a.Key
}

// ModelAdapter holds shared state for chat-completion clients. Embed it in a
// concrete client to get request helpers, auth, custom headers and usage
// tracking.
type ModelAdapter struct {
	Name        string            // Model identifier (e.g. "gpt-3.5-turbo").
	Temperature float64           // Sampling temperature.
	MaxTokens   int               // Maximum tokens in the response.
	Auth        Auth              // Authentication settings.
	BaseURL     string            // Endpoint URL; request paths are appended verbatim.
	Client      *http.Client      // HTTP client; falls back to http.DefaultClient.
	Headers     map[string]string // Extra headers applied to every request.
	Usage       usage.Tracker     // Token usage tracker.
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to http.DefaultClient at call time, which applies
// no timeout of its own; callers bound the call through the context.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  client,
	}
}

// UsageTracker returns the adapter's token usage tracker.
func (a *ModelAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

func (a *ModelAdapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	return http.DefaultClient
}

// NewRequest builds an *http.Request against BaseURL+path with auth and
// custom headers applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	if header, value := a.Auth.headerValue(); header != "" {
		req.Header.Set(header, value)
	}

	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// Do sends the request using the configured HTTP client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.httpClient().Do(req) //nolint:gosec // URL comes from configuration, not user input.
}

// PostJSON marshals payload as JSON, POSTs it to path, and decodes a 2xx
// response body into dest. Any other status yields a *StatusError. If dest
// is nil the body is discarded after the status check.
func (a *ModelAdapter) PostJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
