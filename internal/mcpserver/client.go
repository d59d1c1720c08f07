package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the verification API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Admin secret for protected routes, empty when the API runs open
}

// GateClient is a pure HTTP client for the verification API.
type GateClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGateClient creates a new client for the verification API.
func NewGateClient(cfg Config) *GateClient {
	return &GateClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *GateClient) doRequest(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetStatus returns a session's current verification state.
func (c *GateClient) GetStatus(ctx context.Context, session string) (json.RawMessage, error) {
	path := "/v1/verification/status/" + url.PathEscape(session)
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

// GetRecords returns a session's verification attempt log.
func (c *GateClient) GetRecords(ctx context.Context, session string) (json.RawMessage, error) {
	path := "/v1/verification/records/" + url.PathEscape(session)
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

// GetAssessments returns a session's threat assessment audit trail.
func (c *GateClient) GetAssessments(ctx context.Context, session string) (json.RawMessage, error) {
	path := "/v1/assessments/" + url.PathEscape(session)
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

// GetHubStats returns realtime hub statistics. Requires the admin secret.
func (c *GateClient) GetHubStats(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/hub/stats", nil)
}

// ResetSession clears a session's verification state. Requires the admin secret.
func (c *GateClient) ResetSession(ctx context.Context, session string) (json.RawMessage, error) {
	path := "/v1/verification/reset/" + url.PathEscape(session)
	return c.doRequest(ctx, http.MethodPost, path, nil)
}

// GetHealth returns the API health report.
func (c *GateClient) GetHealth(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/health", nil)
}
