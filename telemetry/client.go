// ABOUTME: Metrics time-series DB client for per-backend telemetry
// ABOUTME: Runs query-by-expression requests and normalises per-instance samples

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/HuaZheng03/dslb/models"
)

// Queries against the metrics DB. Instances are node-exporter style
// "address:port" labels; the address part identifies the backend.
const (
	memUsageQuery = `(1 - (node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes)) * 100`
	cpuUsageQuery = `avg by (instance) ((1 - rate(node_cpu_seconds_total{mode="idle"}[1m])) * 100)`
	rpsQuery      = `sum by (instance) (rate(apache_accesses_total{job="apache_exporter"}[1m]))`
	totalMemQuery = `node_memory_MemTotal_bytes`
	totalCPUQuery = `count(node_cpu_seconds_total{mode="idle"}) by (instance)`
)

// Client queries the external metrics time-series database.
type Client struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
}

// NewClient creates a metrics DB client. pollInterval bounds sample
// freshness: results older than one interval are marked not fresh.
func NewClient(baseURL string, timeout, pollInterval time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		client:       &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
	}
}

// vectorResult is one series of an instant-query response.
type vectorResult struct {
	Metric map[string]string `json:"metric"`
	Value  [2]interface{}    `json:"value"`
}

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string         `json:"resultType"`
		Result     []vectorResult `json:"result"`
	} `json:"data"`
}

// Query runs an instant query and returns the per-instance values keyed by
// the address part of the instance label.
func (c *Client) Query(ctx context.Context, expr string) (map[string]float64, error) {
	endpoint := fmt.Sprintf("%s/api/v1/query?query=%s", c.baseURL, url.QueryEscape(expr))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating query request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying metrics DB: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("metrics DB returned status %d: %s", resp.StatusCode, string(body))
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("parsing query response: %w", err)
	}
	if qr.Status != "success" {
		return nil, fmt.Errorf("metrics DB query status %q", qr.Status)
	}

	values := make(map[string]float64, len(qr.Data.Result))
	for _, r := range qr.Data.Result {
		instance := r.Metric["instance"]
		if instance == "" {
			continue
		}
		addr := strings.Split(instance, ":")[0]

		raw, ok := r.Value[1].(string)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		values[addr] = v
	}
	return values, nil
}

// ServerSamples collects the full telemetry set and returns one LiveSample
// per reporting backend. Backends missing from the CPU result are absent
// from the map; callers treat absence as not fresh.
func (c *Client) ServerSamples(ctx context.Context) (map[string]models.LiveSample, error) {
	now := time.Now()

	cpu, err := c.Query(ctx, cpuUsageQuery)
	if err != nil {
		return nil, fmt.Errorf("cpu query: %w", err)
	}
	if len(cpu) == 0 {
		slog.Debug("No active backends reported CPU usage")
		return map[string]models.LiveSample{}, nil
	}

	mem, err := c.Query(ctx, memUsageQuery)
	if err != nil {
		return nil, fmt.Errorf("memory query: %w", err)
	}
	rps, err := c.Query(ctx, rpsQuery)
	if err != nil {
		// Request rate is best-effort; backends without the exporter still
		// schedule on cpu/mem alone.
		slog.Debug("Request-rate query failed", "error", err)
		rps = map[string]float64{}
	}
	totalMem, err := c.Query(ctx, totalMemQuery)
	if err != nil {
		return nil, fmt.Errorf("total-memory query: %w", err)
	}
	totalCPU, err := c.Query(ctx, totalCPUQuery)
	if err != nil {
		return nil, fmt.Errorf("total-cpu query: %w", err)
	}

	samples := make(map[string]models.LiveSample, len(cpu))
	for addr, cpuPct := range cpu {
		s := models.LiveSample{
			CPUPct:    cpuPct,
			Fresh:     true,
			Timestamp: now,
		}
		if v, ok := mem[addr]; ok {
			s.MemoryPct = v
		} else {
			s.Fresh = false
		}
		if v, ok := rps[addr]; ok {
			s.RPS = v
		}
		if v, ok := totalMem[addr]; ok {
			s.TotalMemoryBytes = int64(v)
		}
		if v, ok := totalCPU[addr]; ok {
			s.TotalCPUCores = int(v)
		}
		samples[addr] = s
	}

	slog.Debug("Collected telemetry", "backends", len(samples))
	return samples, nil
}

// FreshnessFilter re-marks samples older than one poll interval as stale.
// Used when a loop holds on to the previous tick's samples after a query
// failure.
func (c *Client) FreshnessFilter(samples map[string]models.LiveSample, now time.Time) map[string]models.LiveSample {
	out := make(map[string]models.LiveSample, len(samples))
	for addr, s := range samples {
		if now.Sub(s.Timestamp) > c.pollInterval {
			s.Fresh = false
		}
		out[addr] = s
	}
	return out
}
