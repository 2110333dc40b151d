package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPush_DeliversJSON(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("Expected PUT, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, srv.Client())
	if err := p.Push(context.Background(), map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Expected push to succeed, got %v", err)
	}
	if received["k"] != "v" {
		t.Errorf("Unexpected payload: %+v", received)
	}
}

func TestPush_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, srv.Client())
	if err := p.Push(context.Background(), map[string]int{"n": 1}); err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestPush_GivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, srv.Client())
	if err := p.Push(context.Background(), map[string]int{"n": 1}); err == nil {
		t.Error("Expected failure after exhausting attempts")
	}
	if calls.Load() != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", calls.Load())
	}
}

func TestNewHTTPClient_PlainWithoutProxy(t *testing.T) {
	c := NewHTTPClient("", 5*time.Second)
	if c.Transport != nil {
		t.Error("Expected default transport without ALL_PROXY")
	}
	if c.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", c.Timeout)
	}
}

func TestNewHTTPClient_IgnoresUnusableProxy(t *testing.T) {
	// Missing private-key query param makes the proxy config unusable; the
	// client falls back to a direct transport.
	c := NewHTTPClient("ssh+socks5://jumpbox:22", 5*time.Second)
	if c.Transport != nil {
		t.Error("Expected fallback to direct transport for unusable proxy config")
	}
}
