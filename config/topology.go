// ABOUTME: Topology file loader: backend roster, tier ladder, fabric layout
// ABOUTME: Parses YAML and validates the tier intervals and port maps

package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/HuaZheng03/dslb/models"
)

// TierRange is one rung of the capacity ladder: a half-open interval
// [MinRequests, MaxRequests) on the forecast axis. MaxRequests = 0 on the
// top tier means unbounded.
type TierRange struct {
	Tier        models.Tier `yaml:"tier"`
	MinRequests float64     `yaml:"min_requests"`
	MaxRequests float64     `yaml:"max_requests"`
}

// LeafSwitch describes a leaf and its uplink port toward each spine.
type LeafSwitch struct {
	Name     string         `yaml:"name"`
	DeviceID string         `yaml:"device_id"`
	Uplinks  map[string]int `yaml:"uplinks"` // spine name -> leaf port
}

// SpineSwitch describes a spine and its downlink port toward each leaf.
type SpineSwitch struct {
	Name      string         `yaml:"name"`
	DeviceID  string         `yaml:"device_id"`
	Downlinks map[string]int `yaml:"downlinks"` // leaf name -> spine port
}

// Fabric is the spine-leaf layout.
type Fabric struct {
	Leaves []LeafSwitch  `yaml:"leaves"`
	Spines []SpineSwitch `yaml:"spines"`
}

// Topology is the full static description of the managed system.
type Topology struct {
	Backends []models.Backend `yaml:"backends"`
	Tiers    []TierRange      `yaml:"tiers"`
	Fabric   Fabric           `yaml:"fabric"`
}

// LoadTopology reads and validates the topology YAML file.
func LoadTopology(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}

	var topo Topology
	if err := yaml.Unmarshal(raw, &topo); err != nil {
		return nil, fmt.Errorf("parsing topology file: %w", err)
	}

	if err := topo.validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	return &topo, nil
}

func (t *Topology) validate() error {
	if len(t.Backends) == 0 {
		return fmt.Errorf("no backends defined")
	}
	if len(t.Tiers) == 0 {
		return fmt.Errorf("no tiers defined")
	}

	seen := map[models.Tier]bool{}
	for _, b := range t.Backends {
		if b.Address == "" {
			return fmt.Errorf("backend %s has no address", b.ID)
		}
		if seen[b.Tier] {
			return fmt.Errorf("tier %d has more than one backend", b.Tier)
		}
		seen[b.Tier] = true
	}

	// Tier intervals must partition [0, inf) with tier numbers increasing
	// with the interval lower bound.
	tiers := make([]TierRange, len(t.Tiers))
	copy(tiers, t.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinRequests < tiers[j].MinRequests })

	if tiers[0].MinRequests != 0 {
		return fmt.Errorf("lowest tier must start at 0, starts at %v", tiers[0].MinRequests)
	}
	for i := range tiers {
		if i > 0 {
			if tiers[i].Tier <= tiers[i-1].Tier {
				return fmt.Errorf("tier numbers must increase with interval lower bound")
			}
			if tiers[i-1].MaxRequests != tiers[i].MinRequests {
				return fmt.Errorf("tier %d interval does not abut tier %d", tiers[i-1].Tier, tiers[i].Tier)
			}
		}
		if i < len(tiers)-1 && tiers[i].MaxRequests <= tiers[i].MinRequests {
			return fmt.Errorf("tier %d interval is empty", tiers[i].Tier)
		}
	}
	if tiers[len(tiers)-1].MaxRequests != 0 {
		return fmt.Errorf("top tier must be unbounded (max_requests 0)")
	}

	if len(t.Fabric.Spines) > 0 {
		for _, leaf := range t.Fabric.Leaves {
			for _, spine := range t.Fabric.Spines {
				if _, ok := leaf.Uplinks[spine.Name]; !ok {
					return fmt.Errorf("leaf %s has no uplink to %s", leaf.Name, spine.Name)
				}
				if _, ok := spine.Downlinks[leaf.Name]; !ok {
					return fmt.Errorf("spine %s has no downlink to %s", spine.Name, leaf.Name)
				}
			}
		}
	}

	return nil
}

// BackendByTier returns the backend assigned to a tier.
func (t *Topology) BackendByTier(tier models.Tier) (models.Backend, bool) {
	for _, b := range t.Backends {
		if b.Tier == tier {
			return b, true
		}
	}
	return models.Backend{}, false
}

// BackendByAddress returns the backend with the given address.
func (t *Topology) BackendByAddress(addr string) (models.Backend, bool) {
	for _, b := range t.Backends {
		if b.Address == addr {
			return b, true
		}
	}
	return models.Backend{}, false
}

// MaxTier returns the highest declared tier.
func (t *Topology) MaxTier() models.Tier {
	max := models.Tier(0)
	for _, tr := range t.Tiers {
		if tr.Tier > max {
			max = tr.Tier
		}
	}
	return max
}

// TierFor maps a forecast value onto the ladder. Values on an interval
// boundary belong to the tier whose interval starts there.
func (t *Topology) TierFor(forecast float64) models.Tier {
	if forecast < 0 {
		forecast = 0
	}
	for _, tr := range t.Tiers {
		if forecast >= tr.MinRequests && (tr.MaxRequests == 0 || forecast < tr.MaxRequests) {
			return tr.Tier
		}
	}
	return t.MaxTier()
}

// Routes returns every ordered leaf pair in the fabric.
func (t *Topology) Routes() []models.Route {
	var routes []models.Route
	for _, a := range t.Fabric.Leaves {
		for _, b := range t.Fabric.Leaves {
			if a.Name != b.Name {
				routes = append(routes, models.Route{Src: a.Name, Dst: b.Name})
			}
		}
	}
	return routes
}

// Leaf returns the leaf switch with the given name.
func (t *Topology) Leaf(name string) (LeafSwitch, bool) {
	for _, l := range t.Fabric.Leaves {
		if l.Name == name {
			return l, true
		}
	}
	return LeafSwitch{}, false
}

// LeafByDeviceID returns the leaf switch with the given device id.
func (t *Topology) LeafByDeviceID(id string) (LeafSwitch, bool) {
	for _, l := range t.Fabric.Leaves {
		if l.DeviceID == id {
			return l, true
		}
	}
	return LeafSwitch{}, false
}

// Spine returns the spine switch at the given path index (path_0 is the
// first declared spine, path_1 the second).
func (t *Topology) Spine(pathIndex int) (SpineSwitch, bool) {
	if pathIndex < 0 || pathIndex >= len(t.Fabric.Spines) {
		return SpineSwitch{}, false
	}
	return t.Fabric.Spines[pathIndex], true
}

// SpineByName returns the spine switch with the given name.
func (t *Topology) SpineByName(name string) (SpineSwitch, bool) {
	for _, s := range t.Fabric.Spines {
		if s.Name == name {
			return s, true
		}
	}
	return SpineSwitch{}, false
}
