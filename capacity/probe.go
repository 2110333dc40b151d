// ABOUTME: Synthetic HTTP health probe against pool backends
// ABOUTME: Any answer below 500 within the timeout passes; 5xx and transport errors fail

package capacity

import (
	"context"
	"fmt"
	"net/http"
)

// Prober issues one synthetic check against a backend address.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// HTTPProber fetches a static page from the backend's web server.
type HTTPProber struct {
	client *http.Client
	port   int
	path   string
}

func NewHTTPProber(client *http.Client, port int, path string) *HTTPProber {
	if path == "" {
		path = "/index.html"
	}
	return &HTTPProber{client: client, port: port, path: path}
}

func (p *HTTPProber) Probe(ctx context.Context, addr string) error {
	url := fmt.Sprintf("http://%s:%d%s", addr, p.port, p.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	// Server errors fail the probe; anything the server answered
	// coherently (2xx-4xx) counts as alive.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}
