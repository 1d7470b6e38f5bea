package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a REST Gateway implementation speaking the search cluster's
// HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
	apiKey     string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Endpoint is the cluster base URL, e.g. "https://search.example.com:9200".
	Endpoint string

	// Username and Password enable basic authentication when both are set.
	Username string
	Password string

	// APIKey enables ApiKey authentication and takes precedence over
	// basic authentication.
	APIKey string

	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
}

// NewClient creates a new cluster REST client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		username: cfg.Username,
		password: cfg.Password,
		apiKey:   cfg.APIKey,
	}
}

// APIError is an error response from the cluster API.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Reason     string `json:"reason"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cluster API error (status %d, %s): %s", e.StatusCode, e.Type, e.Reason)
	}
	return fmt.Sprintf("cluster API error (status %d)", e.StatusCode)
}

// IsNotFound reports whether the error is a 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict reports whether the error is a 409.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// errorEnvelope is the {"error": {...}, "status": N} wrapper the cluster
// uses for error bodies.
type errorEnvelope struct {
	Error  APIError `json:"error"`
	Status int      `json:"status"`
}

// do performs an HTTP request and decodes the response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	switch {
	case c.apiKey != "":
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Reason != "" {
			envelope.Error.StatusCode = resp.StatusCode
			return &envelope.Error
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Reason:     string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// put performs a PUT request.
func (c *Client) put(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPut, path, body, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// delete performs a DELETE request.
func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// exists translates a GET into an existence check, treating 404 as false.
func (c *Client) exists(ctx context.Context, path string) (bool, error) {
	err := c.get(ctx, path, nil)
	if err == nil {
		return true, nil
	}
	if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
		return false, nil
	}
	return false, err
}

// pathEscape escapes a single path segment.
func pathEscape(s string) string {
	return url.PathEscape(s)
}
