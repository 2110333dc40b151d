// ABOUTME: SDN controller port-statistics client and windowed byte deltas
// ABOUTME: Derives per-path bytes for each (srcLeaf, spine, dstLeaf) triple

package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/models"
)

// PortCounters are the cumulative counters of one switch port.
type PortCounters struct {
	BytesSent     int64 `json:"bytesSent"`
	BytesReceived int64 `json:"bytesReceived"`
}

// PortStats maps device id -> port -> cumulative counters.
type PortStats map[string]map[int]PortCounters

// PortDelta is the byte movement on one port over a collection window.
type PortDelta struct {
	Tx    int64
	Rx    int64
	Total int64
}

// WindowUsage maps device id -> port -> window delta.
type WindowUsage map[string]map[int]PortDelta

// Collector polls the SDN controller's port-statistics REST API.
type Collector struct {
	baseURL string
	user    string
	pass    string
	client  *http.Client
	journal *alerts.Journal
}

func NewCollector(baseURL, user, pass string, client *http.Client, journal *alerts.Journal) *Collector {
	if client == nil {
		client = &http.Client{}
	}
	return &Collector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		user:    user,
		pass:    pass,
		client:  client,
		journal: journal,
	}
}

type portStatsResponse struct {
	Statistics []struct {
		Device string `json:"device"`
		Ports  []struct {
			Port          json.Number `json:"port"`
			BytesSent     int64       `json:"bytesSent"`
			BytesReceived int64       `json:"bytesReceived"`
		} `json:"ports"`
	} `json:"statistics"`
}

// PortStats fetches cumulative counters for every device port.
func (c *Collector) PortStats(ctx context.Context) (PortStats, error) {
	endpoint := c.baseURL + "/onos/v1/statistics/ports"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building port-stats request: %w", err)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching port statistics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("port statistics returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed portStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing port statistics: %w", err)
	}

	stats := PortStats{}
	for _, dev := range parsed.Statistics {
		if dev.Device == "" {
			continue
		}
		ports := map[int]PortCounters{}
		for _, p := range dev.Ports {
			n, err := strconv.Atoi(p.Port.String())
			if err != nil {
				continue
			}
			ports[n] = PortCounters{BytesSent: p.BytesSent, BytesReceived: p.BytesReceived}
		}
		stats[dev.Device] = ports
	}
	return stats, nil
}

// WindowDelta computes per-port byte movement between two snapshots.
// Negative deltas (port reset) yield zero for the window with a warning.
func (c *Collector) WindowDelta(start, end PortStats) WindowUsage {
	usage := WindowUsage{}
	for device, endPorts := range end {
		startPorts, ok := start[device]
		if !ok {
			continue
		}
		deltas := map[int]PortDelta{}
		for port, endC := range endPorts {
			startC, ok := startPorts[port]
			if !ok {
				continue
			}
			tx := endC.BytesSent - startC.BytesSent
			rx := endC.BytesReceived - startC.BytesReceived
			if tx < 0 || rx < 0 {
				if c.journal != nil {
					c.journal.CounterRegression(device, port)
				}
				tx, rx = 0, 0
			}
			deltas[port] = PortDelta{Tx: tx, Rx: rx, Total: tx + rx}
		}
		usage[device] = deltas
	}
	return usage
}

// PathBytes derives the bytes carried by each directed path over the
// window: the maximum of the source leaf's uplink transmit and the
// destination leaf's downlink receive toward the chosen spine.
func PathBytes(topo *config.Topology, usage WindowUsage) []models.PathSample {
	var out []models.PathSample
	for _, route := range topo.Routes() {
		src, okSrc := topo.Leaf(route.Src)
		dst, okDst := topo.Leaf(route.Dst)
		if !okSrc || !okDst {
			continue
		}
		for _, spine := range topo.Fabric.Spines {
			var tx, rx int64
			if ports, ok := usage[src.DeviceID]; ok {
				if d, ok := ports[src.Uplinks[spine.Name]]; ok {
					tx = d.Tx
				}
			}
			if ports, ok := usage[dst.DeviceID]; ok {
				if d, ok := ports[dst.Uplinks[spine.Name]]; ok {
					rx = d.Rx
				}
			}
			bytes := tx
			if rx > bytes {
				bytes = rx
			}
			out = append(out, models.PathSample{Route: route, Spine: spine.Name, Bytes: bytes})
		}
	}
	return out
}

// TotalBytes sums all port deltas in the window.
func TotalBytes(usage WindowUsage) int64 {
	var total int64
	for _, ports := range usage {
		for _, d := range ports {
			total += d.Total
		}
	}
	return total
}
