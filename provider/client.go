package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// maxResponseSize limits provider response bodies to prevent memory
// exhaustion from a misbehaving API.
const maxResponseSize = 4 * 1024 * 1024 // 4MB

// httpClient wraps one provider's HTTP access: base URL, credential, and
// status-code-to-reason mapping. It performs exactly one attempt per call;
// retries live at the task level, not inside adapters.
type httpClient struct {
	source  Source
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	apiKey string
}

func newHTTPClient(source Source, baseURL, apiKey string, client *http.Client) *httpClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpClient{
		source:  source,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// setAPIKey replaces the credential; in-flight calls keep the key they read.
func (c *httpClient) setAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// getJSON performs a GET against path with query params and decodes the JSON
// response into out. All faults come back as typed *Error.
func (c *httpClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return NewError(c.source, ReasonUnknown, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return NewError(c.source, ReasonTimeout, "request timed out", err)
		}
		return NewError(c.source, ReasonNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(c.source, ReasonAuthentication, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(c.source, ReasonRateLimit, "rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return NewError(c.source, ReasonUnavailable, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return NewError(c.source, ReasonUnknown, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return NewError(c.source, ReasonNetwork, "read response", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewError(c.source, ReasonInvalidResponse, "decode response", err)
	}
	return nil
}
