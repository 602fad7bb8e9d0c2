package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/auth"
	"github.com/greenharvest/harvest-api/internal/httpx"
	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/models"
)

// MetricsMiddleware records HTTP request metrics
func MetricsMiddleware(metrics *metrics.AppMetrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Milliseconds()

			route := mux.CurrentRoute(r)
			routePattern := "unknown"
			if route != nil {
				if pathTemplate, err := route.GetPathTemplate(); err == nil {
					routePattern = pathTemplate
				}
			}

			ctx := r.Context()
			attrs := metric.WithAttributes(metrics.WithServiceName([]attribute.KeyValue{
				attribute.String("http.method", r.Method),
				attribute.String("http.route", routePattern),
				attribute.Int("http.status_code", rw.statusCode),
			})...)

			metrics.HTTPRequestsTotal.Add(ctx, 1, attrs)

			// Record error requests (4xx, 5xx)
			if rw.statusCode >= 400 {
				metrics.HTTPRequestsErrors.Add(ctx, 1, attrs)
			}

			metrics.HTTPRequestDuration.Record(ctx, float64(duration), attrs)

			log.Printf("%s %s %s - %d - %dms request_id=%s", r.Method, routePattern, r.RemoteAddr, rw.statusCode, duration, httpx.RequestID(ctx))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// RequestIDMiddleware adds a request ID to the context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(httpx.WithRequestID(r.Context(), requestID)))
	})
}

// CORSMiddleware adds CORS headers for the allowed origin
func CORSMiddleware(allowedOrigin string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorHandlerMiddleware turns panics into JSON 500 responses
func ErrorHandlerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Printf("[HTTP] panic: %v\n%s", rec, debug.Stack())
				httpx.WriteError(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// TimeoutMiddleware bounds every request by d. Handlers see the deadline
// through the request context.
func TimeoutMiddleware(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticator resolves a bearer token into an identity
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func RequireAuth(authn Authenticator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			scheme, token, _ := strings.Cut(header, " ")
			if !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				httpx.WriteError(w, r, apperr.Unauthorized("middleware.RequireAuth", "No token provided"))
				return
			}

			id, err := authn.Authenticate(r.Context(), strings.TrimSpace(token))
			if err != nil {
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not in roles.
// It must run after RequireAuth.
func RequireRole(roles ...models.Role) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.FromContext(r.Context())
			if !ok {
				httpx.WriteError(w, r, apperr.Unauthorized("middleware.RequireRole", "No token provided"))
				return
			}
			if !id.HasRole(roles...) {
				httpx.WriteError(w, r, apperr.Forbidden("middleware.RequireRole", "Access denied for role %s", id.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
