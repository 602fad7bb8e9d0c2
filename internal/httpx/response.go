// Package httpx holds the JSON response helpers shared by handlers and
// middleware.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/greenharvest/harvest-api/internal/apperr"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

type requestIDKey struct{}

// WithRequestID returns a copy of ctx carrying the request id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored in ctx, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if v == nil {
		return
	}

	_ = json.NewEncoder(w).Encode(v)
}

// Status maps an error to its HTTP status and error code
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrInsufficientStock):
		return http.StatusBadRequest, "insufficient_stock"
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, apperr.ErrUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError writes err as an ErrorBody. Internal errors are logged and
// their text is not sent to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Status(err)
	body := ErrorBody{
		Error:      code,
		Message:    apperr.Message(err),
		Details:    apperr.Details(err),
		RetryAfter: apperr.RetryAfter(err),
	}

	switch {
	case status == http.StatusInternalServerError:
		log.Printf("[HTTP] %s %s request_id=%s internal error: %v", r.Method, r.URL.Path, RequestID(r.Context()), err)
		body.Message = "Internal server error"
		body.Details = nil
	case code == "timeout":
		body.Message = "Request timed out"
	case body.Message == "":
		body.Message = http.StatusText(status)
	}

	if body.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	WriteJSON(w, status, body)
}
