// Package ensemble is the HTTP client for the external LLM ensemble judge.
package ensemble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/VoiceForge/internal/adapter/otel"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/port/judge"
	"github.com/Strob0t/VoiceForge/internal/resilience"
)

const evaluatePath = "/v1/evaluate"

// Client implements judge.BehavioralJudge. It never retries.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates an ensemble client; timeout bounds one evaluation.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: otel.HTTPClient(&http.Client{}),
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type evaluateResponse struct {
	FinalDecision string  `json:"final_decision"`
	FinalScore    float64 `json:"final_score"`
	Confidence    string  `json:"confidence"`
}

// Evaluate asks the ensemble to judge one turn. Every failure, including a
// response outside the documented vocabulary, wraps judge.ErrUnavailable.
func (c *Client) Evaluate(ctx context.Context, req judge.BehavioralRequest) (*judge.BehavioralVerdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal evaluate: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var verdict validation.LLMVerdict
	call := func(ctx context.Context) error {
		data, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		var out evaluateResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		verdict = validation.LLMVerdict{
			Decision:   validation.LLMDecision(out.FinalDecision),
			Score:      out.FinalScore,
			Confidence: validation.Confidence(out.Confidence),
		}
		if !verdict.Valid() {
			return fmt.Errorf("unexpected verdict %+v", out)
		}
		return nil
	}

	if c.breaker != nil {
		err = c.breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ensemble: %w", judge.ErrUnavailable, err)
	}
	return &verdict, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+evaluatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ensemble API error %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
