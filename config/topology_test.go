package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/HuaZheng03/dslb/models"
)

const topologyYAML = `
backends:
  - id: vm-small
    name: vm-small
    address: 192.168.6.2
    tier: 1
    capacity_cores: 1
    capacity_memory_bytes: 1073741824
  - id: vm-medium
    name: vm-medium
    address: 192.168.6.3
    tier: 2
    capacity_cores: 2
    capacity_memory_bytes: 2147483648
  - id: vm-large
    name: vm-large
    address: 192.168.6.4
    tier: 3
    capacity_cores: 4
    capacity_memory_bytes: 4294967296
tiers:
  - tier: 1
    min_requests: 0
    max_requests: 140000
  - tier: 2
    min_requests: 140000
    max_requests: 420000
  - tier: 3
    min_requests: 420000
    max_requests: 0
fabric:
  leaves:
    - name: leaf1
      device_id: "of:01"
      uplinks: {spine1: 1, spine2: 5}
    - name: leaf6
      device_id: "of:06"
      uplinks: {spine1: 1, spine2: 2}
  spines:
    - name: spine1
      device_id: "of:s1"
      downlinks: {leaf1: 1, leaf6: 2}
    - name: spine2
      device_id: "of:s2"
      downlinks: {leaf1: 1, leaf6: 4}
`

func writeTopology(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Could not write topology: %v", err)
	}
	return path
}

func TestLoadTopology(t *testing.T) {
	topo, err := LoadTopology(writeTopology(t, topologyYAML))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(topo.Backends) != 3 {
		t.Errorf("Expected 3 backends, got %d", len(topo.Backends))
	}
	if topo.MaxTier() != 3 {
		t.Errorf("Expected max tier 3, got %d", topo.MaxTier())
	}

	b, ok := topo.BackendByTier(2)
	if !ok || b.ID != "vm-medium" {
		t.Errorf("Unexpected tier-2 backend: %+v", b)
	}

	leaf, ok := topo.Leaf("leaf1")
	if !ok || leaf.Uplinks["spine2"] != 5 {
		t.Errorf("Unexpected leaf1: %+v", leaf)
	}

	// 2 leaves -> 2 ordered pairs.
	if n := len(topo.Routes()); n != 2 {
		t.Errorf("Expected 2 routes, got %d", n)
	}
}

func TestTierFor_Monotone(t *testing.T) {
	topo, err := LoadTopology(writeTopology(t, topologyYAML))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	prev := models.Tier(0)
	for _, v := range []float64{0, 1000, 139999, 140000, 300000, 419999, 420000, 1e7} {
		tier := topo.TierFor(v)
		if tier < prev {
			t.Errorf("Tier not monotone at %v: %d < %d", v, tier, prev)
		}
		prev = tier
	}

	if topo.TierFor(140000) != 2 {
		t.Error("Boundary forecast must map to the tier starting there")
	}
	if topo.TierFor(-5) != 1 {
		t.Error("Negative forecasts clamp to the lowest tier")
	}
}

func TestLoadTopology_RejectsDuplicateTierBackends(t *testing.T) {
	bad := `
backends:
  - {id: a, name: a, address: 10.0.0.1, tier: 1}
  - {id: b, name: b, address: 10.0.0.2, tier: 1}
tiers:
  - {tier: 1, min_requests: 0, max_requests: 0}
`
	if _, err := LoadTopology(writeTopology(t, bad)); err == nil {
		t.Error("Expected rejection of two backends on one tier")
	}
}

func TestLoadTopology_RejectsGappedTiers(t *testing.T) {
	bad := `
backends:
  - {id: a, name: a, address: 10.0.0.1, tier: 1}
  - {id: b, name: b, address: 10.0.0.2, tier: 2}
tiers:
  - {tier: 1, min_requests: 0, max_requests: 100}
  - {tier: 2, min_requests: 200, max_requests: 0}
`
	if _, err := LoadTopology(writeTopology(t, bad)); err == nil {
		t.Error("Expected rejection of non-abutting tier intervals")
	}
}

func TestLoadTopology_RejectsBoundedTopTier(t *testing.T) {
	bad := `
backends:
  - {id: a, name: a, address: 10.0.0.1, tier: 1}
tiers:
  - {tier: 1, min_requests: 0, max_requests: 100}
`
	if _, err := LoadTopology(writeTopology(t, bad)); err == nil {
		t.Error("Expected rejection of a bounded top tier")
	}
}
