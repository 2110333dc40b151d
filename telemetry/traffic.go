// ABOUTME: HTTP request-count queries for the traffic forecaster
// ABOUTME: Hourly totals, per-server breakdown, and exporter liveness

package telemetry

import (
	"context"
	"fmt"
)

// HourlyRequestCount returns the total HTTP requests served across the pool
// over the previous lookback hours. The increase() expression absorbs
// counter resets from server restarts.
func (c *Client) HourlyRequestCount(ctx context.Context, lookbackHours int) (float64, error) {
	expr := fmt.Sprintf(`sum(increase(apache_accesses_total{job="apache_exporter"}[%dh]))`, lookbackHours)
	values, err := c.Query(ctx, expr)
	if err != nil {
		return 0, fmt.Errorf("hourly request count: %w", err)
	}
	// sum() collapses to a single series; any key carries the total.
	for _, v := range values {
		return v, nil
	}
	return 0, fmt.Errorf("hourly request count: no data")
}

// PerServerRequestCounts returns request totals per backend address over
// the previous lookback hours.
func (c *Client) PerServerRequestCounts(ctx context.Context, lookbackHours int) (map[string]float64, error) {
	expr := fmt.Sprintf(`increase(apache_accesses_total{job="apache_exporter"}[%dh])`, lookbackHours)
	values, err := c.Query(ctx, expr)
	if err != nil {
		return nil, fmt.Errorf("per-server request counts: %w", err)
	}
	return values, nil
}

// ExporterStatus reports which backends have a live request exporter.
func (c *Client) ExporterStatus(ctx context.Context) (map[string]bool, error) {
	values, err := c.Query(ctx, `up{job="apache_exporter"}`)
	if err != nil {
		return nil, fmt.Errorf("exporter status: %w", err)
	}
	status := make(map[string]bool, len(values))
	for addr, v := range values {
		status[addr] = v > 0
	}
	return status, nil
}
