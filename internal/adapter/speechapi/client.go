// Package speechapi is the HTTP client for the voice-assistant platform
// under test.
package speechapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/VoiceForge/internal/adapter/otel"
	"github.com/Strob0t/VoiceForge/internal/port/speech"
	"github.com/Strob0t/VoiceForge/internal/resilience"
)

const queryPath = "/v1/query"

// Client implements speech.Interface over the platform's JSON API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a platform client. timeout bounds one query.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: otel.HTTPClient(&http.Client{Timeout: timeout}),
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Query sends one turn to the assistant. Every failure wraps
// speech.ErrUnavailable.
func (c *Client) Query(ctx context.Context, req speech.Request) (*speech.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	var out speech.Response
	call := func(ctx context.Context) error {
		data, err := c.post(ctx, queryPath, req.RequestID, body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", speech.ErrUnavailable, err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, requestID string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("speech API error %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
