// Package ai is a text-in/text-out client for the Gemini generateContent
// REST API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/greenharvest/harvest-api/internal/apperr"
)

const (
	// DefaultBaseURL is the public Gemini endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.0-flash"

	overloadedRetryAfter = 60   // seconds
	quotaRetryAfter      = 3600 // seconds
	maxResponseBytes     = 1 << 20
)

// Config configures a Client
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTries  uint
	Transport http.RoundTripper
}

// Client calls the provider with retries on transient failures
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTries   uint
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

// NewClient creates a client. A client without an API key is valid but
// every call fails with apperr.ErrUnavailable.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	return &Client{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		maxTries: cfg.MaxTries,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

// Enabled reports whether an API key is configured
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Generate sends prompt as a single user turn and returns the concatenated
// text of the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.Enabled() {
		return "", apperr.Unavailable("ai.Generate", "AI service is not available", 0, nil)
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	op := func() (*generateResponse, error) {
		return c.do(ctx, body)
	}
	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		log.Printf("[AI] generateContent failed after %s: %v", time.Since(start), err)
		return "", c.classify(err)
	}

	if len(resp.Candidates) == 0 {
		return "", apperr.Unavailable("ai.Generate", "AI service returned no response", 0, nil)
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return "", apperr.Unavailable("ai.Generate", "AI service returned an empty response", 0, nil)
	}

	log.Printf("[AI] model=%s tokens=%d duration=%dms", c.model, resp.UsageMetadata.TotalTokenCount, time.Since(start).Milliseconds())
	return text.String(), nil
}

// statusError is a non-200 provider answer
type statusError struct {
	code    int
	status  string
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gemini API error (status %d %s): %s", e.code, e.status, e.message)
}

func (c *Client) do(ctx context.Context, body []byte) (*generateResponse, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		serr := &statusError{code: resp.StatusCode, message: strings.TrimSpace(string(data))}
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			serr.status = apiErr.Error.Status
			serr.message = apiErr.Error.Message
		}
		if resp.StatusCode >= 500 {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return &out, nil
}

// classify maps provider failures onto apperr kinds with retry hints
func (c *Client) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Unavailable("ai.Generate", "AI service timed out", 0, err)
	}

	var serr *statusError
	if !errors.As(err, &serr) {
		return apperr.Unavailable("ai.Generate", "AI service is unreachable", 0, err)
	}

	msg := strings.ToLower(serr.message)
	switch {
	case serr.code == http.StatusTooManyRequests || serr.status == "RESOURCE_EXHAUSTED" || strings.Contains(msg, "quota"):
		return &apperr.Error{
			Op:         "ai.Generate",
			Kind:       apperr.ErrRateLimited,
			Message:    "AI service quota exceeded. Please try again later.",
			RetryAfter: quotaRetryAfter,
			Err:        err,
		}
	case serr.code == http.StatusServiceUnavailable || strings.Contains(msg, "overloaded"):
		return apperr.Unavailable("ai.Generate", "AI service is currently overloaded. Please try again in a few minutes.", overloadedRetryAfter, err)
	case serr.code == http.StatusUnauthorized || serr.code == http.StatusForbidden:
		return apperr.Unavailable("ai.Generate", "AI service is not available", 0, err)
	default:
		return apperr.Unavailable("ai.Generate", "Failed to get AI response", 0, err)
	}
}
