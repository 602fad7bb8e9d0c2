package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenharvest/harvest-api/internal/apperr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "gemini-test", Timeout: 2 * time.Second})
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c, &calls
}

func TestGenerate_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Equal(t, "hello", req.Contents[0].Parts[0].Text)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hi "},{"text":"there"}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":5}}`))
	})

	text, err := c.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
}

func TestGenerate_OverloadedRetriesThenUnavailable(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`))
	})

	_, err := c.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUnavailable))
	assert.Equal(t, 60, apperr.RetryAfter(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestGenerate_QuotaIsRateLimitedWithoutRetry(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"You exceeded your current quota","status":"RESOURCE_EXHAUSTED"}}`))
	})

	_, err := c.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrRateLimited))
	assert.Equal(t, 3600, apperr.RetryAfter(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestGenerate_RecoversAfterTransientFailure(t *testing.T) {
	var n int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	})

	text, err := c.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestGenerate_NoCandidates(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := c.Generate(context.Background(), "hello")
	assert.True(t, errors.Is(err, apperr.ErrUnavailable))
}

func TestGenerate_WithoutKey(t *testing.T) {
	c := NewClient(Config{})
	assert.False(t, c.Enabled())

	_, err := c.Generate(context.Background(), "hello")
	assert.True(t, errors.Is(err, apperr.ErrUnavailable))
	assert.Equal(t, "AI service is not available", apperr.Message(err))
}
