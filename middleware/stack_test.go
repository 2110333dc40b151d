package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRoute_AttachesRequestID(t *testing.T) {
	stack := NewStack(nil)
	mux := http.NewServeMux()

	var seenID string
	stack.Route(mux, "/health", func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
		w.Write([]byte("ok"))
	})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if seenID == "" {
		t.Error("Expected a request id in the handler context")
	}
	if w.Header().Get("X-Request-ID") != seenID {
		t.Errorf("Expected header id %q to match context id %q", w.Header().Get("X-Request-ID"), seenID)
	}
}

func TestRequestID_EmptyOutsideStack(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := RequestID(req.Context()); id != "" {
		t.Errorf("Expected empty id outside the stack, got %q", id)
	}
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	stack := NewStack([]string{"https://dashboard.example.com"})
	mux := http.NewServeMux()
	stack.Route(mux, "/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
		t.Errorf("Expected origin echoed back, got %q", got)
	}
	if w.Header().Get("Vary") != "Origin" {
		t.Error("Expected Vary: Origin with per-origin allowlisting")
	}
}

func TestCORS_BlocksUnlistedOrigin(t *testing.T) {
	stack := NewStack([]string{"https://dashboard.example.com"})
	mux := http.NewServeMux()
	stack.Route(mux, "/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Expected no CORS headers for an unlisted origin")
	}
}

func TestCORS_EmptyAllowlistBlocksAll(t *testing.T) {
	stack := NewStack(nil)
	mux := http.NewServeMux()
	stack.Route(mux, "/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Empty allowlist must block all cross-origin use")
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	stack := NewStack([]string{"https://dashboard.example.com"})
	mux := http.NewServeMux()
	called := false
	stack.Route(mux, "/force_sync", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodOptions, "/force_sync", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 preflight answer, got %d", w.Code)
	}
	if called {
		t.Error("Preflight must not reach the handler")
	}
}

func TestObserve_CapturesDownstreamStatus(t *testing.T) {
	stack := NewStack(nil)
	mux := http.NewServeMux()
	stack.Route(mux, "/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected downstream 404 to pass through, got %d", w.Code)
	}
}
