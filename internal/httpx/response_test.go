package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenharvest/harvest-api/internal/apperr"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.NotFound("op", "Product not found"), http.StatusNotFound, "not_found"},
		{apperr.InsufficientStock("op", 2, 5), http.StatusBadRequest, "insufficient_stock"},
		{apperr.Invalid("op", "bad"), http.StatusBadRequest, "bad_request"},
		{apperr.Conflict("op", "dup"), http.StatusConflict, "conflict"},
		{apperr.Unauthorized("op", "no"), http.StatusUnauthorized, "unauthorized"},
		{apperr.Forbidden("op", "no"), http.StatusForbidden, "forbidden"},
		{apperr.RateLimited("op", "slow down", 3), http.StatusTooManyRequests, "rate_limited"},
		{apperr.Unavailable("op", "down", 0, nil), http.StatusServiceUnavailable, "service_unavailable"},
		{fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, "timeout"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := Status(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteError(t *testing.T) {
	serve := func(err error) (*httptest.ResponseRecorder, ErrorBody) {
		rec := httptest.NewRecorder()
		WriteError(rec, httptest.NewRequest("GET", "/", nil), err)
		var body ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec, body
	}

	rec, body := serve(apperr.RateLimited("op", "Too many AI requests. Please try again later.", 42))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Equal(t, 42, body.RetryAfter)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec, body = serve(errors.New("secret dsn leaked"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", body.Message)
	assert.NotContains(t, rec.Body.String(), "dsn")

	_, body = serve(context.Canceled)
	assert.Equal(t, "Request timed out", body.Message)

	_, body = serve(apperr.InsufficientStock("op", 2, 5))
	assert.Equal(t, "Only 2 items available in stock", body.Message)
	assert.Equal(t, map[string]any{"available": float64(2), "requested": float64(5)}, body.Details)
}
