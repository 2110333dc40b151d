// ABOUTME: HTTP middleware stack for the control-plane API surfaces
// ABOUTME: Request-ID tagged logging, API metrics, and origin-checked CORS

package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/HuaZheng03/dslb/metrics"
)

type contextKey int

const requestIDKey contextKey = 0

// RequestID returns the correlation id the stack attached to the request
// context, or an empty string outside the stack.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Stack wraps the control-plane API handlers with the shared concerns:
// cross-origin policy for the dashboard, per-endpoint request metrics, and
// correlation-id logging. Both binaries build one Stack and route through it.
type Stack struct {
	allowedOrigins map[string]bool
}

// NewStack builds a middleware stack. origins is the dashboard origin
// allowlist from configuration; an empty list blocks all cross-origin use.
func NewStack(origins []string) *Stack {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Stack{allowedOrigins: allowed}
}

// Route registers a handler on mux with the full stack applied. The
// endpoint label used for metrics is the pattern as registered, so
// parameterised routes aggregate under one series.
func (s *Stack) Route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, s.cors(s.observe(pattern, fn)))
}

// statusRecorder captures the status code and body size written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// observe attaches a correlation id, logs the completed request, and feeds
// the per-endpoint API counters and latency histogram.
func (s *Stack) observe(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := newRequestID()

		w.Header().Set("X-Request-ID", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID)))

		elapsed := time.Since(start)
		metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.APILatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())

		slog.Info("API request",
			"request_id", requestID,
			"endpoint", endpoint,
			"method", r.Method,
			"status", rec.status,
			"bytes", rec.bytes,
			"latency_ms", elapsed.Milliseconds(),
		)
	}
}

// cors enforces the configured origin allowlist. Same-origin requests pass
// untouched; allowed origins get the CORS headers and a preflight answer;
// anything else is handled without them and the browser blocks it.
func (s *Stack) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// newRequestID creates a short random hex correlation id.
func newRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
