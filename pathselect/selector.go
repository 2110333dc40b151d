// ABOUTME: SDN-side path selector: sticky 5-tuple flows over SWRR spine choice
// ABOUTME: Installs symmetric leaf-spine-leaf rules; never floods unknown traffic

package pathselect

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/metrics"
)

const (
	flowPriority       = 40000
	idleTimeoutSeconds = 300
)

// Host is an attached end host's location.
type Host struct {
	MAC      string
	DeviceID string // leaf the host hangs off
	Port     int
}

// HostService resolves MAC addresses to host locations.
type HostService interface {
	HostByMAC(mac string) (Host, bool)
}

// FlowRule is one match-action entry destined for a switch.
type FlowRule struct {
	DeviceID    string
	Key         FlowKey
	OutPort     int
	Priority    int
	IdleTimeout int
}

// FlowInstaller applies flow rules on the dataplane.
type FlowInstaller interface {
	Install(rules []FlowRule) error
}

// Packet is the parsed first packet of a flow handed to the selector.
type Packet struct {
	SrcMAC      string
	DstMAC      string
	DstMulticast bool
	DstBroadcast bool
	Key         FlowKey
}

// Decision is what the selector did with a packet.
type Decision struct {
	Drop    bool
	OutPort int      // packet-out port on the ingress leaf
	Spine   int      // chosen path index for inter-leaf flows
	Route   string   // route key, empty for same-leaf flows
}

type stickyEntry struct {
	spine    int
	lastSeen time.Time
}

// Selector pins each 5-tuple to a spine for the lifetime of its flow rules
// and programs both directions end to end.
type Selector struct {
	topo      *config.Topology
	hosts     HostService
	installer FlowInstaller
	wrr       *SmoothWRR

	mu     sync.Mutex
	sticky map[FlowKey]stickyEntry
	now    func() time.Time
}

func NewSelector(topo *config.Topology, hosts HostService, installer FlowInstaller) *Selector {
	return &Selector{
		topo:      topo,
		hosts:     hosts,
		installer: installer,
		wrr:       NewSmoothWRR(),
		sticky:    map[FlowKey]stickyEntry{},
		now:       time.Now,
	}
}

// WRR exposes the selector's scheduler, for the weight watcher.
func (s *Selector) WRR() *SmoothWRR { return s.wrr }

// HandlePacket processes the first packet of a flow.
func (s *Selector) HandlePacket(pkt Packet) (Decision, error) {
	if pkt.DstMulticast || pkt.DstBroadcast {
		return Decision{Drop: true}, nil
	}

	srcHost, okSrc := s.hosts.HostByMAC(pkt.SrcMAC)
	dstHost, okDst := s.hosts.HostByMAC(pkt.DstMAC)
	if !okSrc || !okDst {
		// Unknown host: drop, never flood; host discovery will learn it.
		return Decision{Drop: true}, nil
	}

	if srcHost.DeviceID == dstHost.DeviceID {
		rule := FlowRule{
			DeviceID:    dstHost.DeviceID,
			Key:         pkt.Key,
			OutPort:     dstHost.Port,
			Priority:    flowPriority,
			IdleTimeout: idleTimeoutSeconds,
		}
		if err := s.installer.Install([]FlowRule{rule}); err != nil {
			return Decision{Drop: true}, fmt.Errorf("installing same-leaf rule: %w", err)
		}
		return Decision{OutPort: dstHost.Port}, nil
	}

	srcLeaf, okSrcLeaf := s.topo.LeafByDeviceID(srcHost.DeviceID)
	dstLeaf, okDstLeaf := s.topo.LeafByDeviceID(dstHost.DeviceID)
	if !okSrcLeaf || !okDstLeaf {
		return Decision{Drop: true}, fmt.Errorf("host attached to unknown leaf")
	}

	routeKey := srcLeaf.Name + "->" + dstLeaf.Name
	spineIdx, fresh := s.spineFor(pkt.Key, routeKey)

	spine, ok := s.topo.Spine(spineIdx)
	if !ok {
		return Decision{Drop: true}, fmt.Errorf("no spine at path index %d", spineIdx)
	}

	if fresh {
		rules := s.bidirectionalRules(pkt.Key, srcLeaf, dstLeaf, spine, srcHost, dstHost)
		if err := s.installer.Install(rules); err != nil {
			s.forget(pkt.Key)
			return Decision{Drop: true}, fmt.Errorf("installing path rules: %w", err)
		}
		metrics.SpineSelections.WithLabelValues(routeKey, spine.Name).Inc()
		slog.Debug("Flow pinned", "flow", pkt.Key.String(), "route", routeKey, "spine", spine.Name)
	}

	return Decision{
		OutPort: srcLeaf.Uplinks[spine.Name],
		Spine:   spineIdx,
		Route:   routeKey,
	}, nil
}

// spineFor returns the sticky spine for the flow, selecting a new one via
// SWRR when the flow is unknown or its entry idled out.
func (s *Selector) spineFor(key FlowKey, routeKey string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.sticky[key]; ok && now.Sub(e.lastSeen) < idleTimeoutSeconds*time.Second {
		e.lastSeen = now
		s.sticky[key] = e
		return e.spine, false
	}

	spine := s.wrr.Select(routeKey)
	entry := stickyEntry{spine: spine, lastSeen: now}
	s.sticky[key] = entry
	// The reverse direction pins to the same spine immediately.
	s.sticky[key.Reverse()] = entry

	s.pruneLocked(now)
	return spine, true
}

func (s *Selector) forget(key FlowKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sticky, key)
	delete(s.sticky, key.Reverse())
}

func (s *Selector) pruneLocked(now time.Time) {
	if len(s.sticky) < 4096 {
		return
	}
	for k, e := range s.sticky {
		if now.Sub(e.lastSeen) >= idleTimeoutSeconds*time.Second {
			delete(s.sticky, k)
		}
	}
}

// bidirectionalRules builds the six rules pinning both directions of the
// flow through the same spine.
func (s *Selector) bidirectionalRules(key FlowKey, srcLeaf, dstLeaf config.LeafSwitch,
	spine config.SpineSwitch, srcHost, dstHost Host) []FlowRule {

	fwd := key
	rev := key.Reverse()

	mk := func(device string, k FlowKey, out int) FlowRule {
		return FlowRule{
			DeviceID:    device,
			Key:         k,
			OutPort:     out,
			Priority:    flowPriority,
			IdleTimeout: idleTimeoutSeconds,
		}
	}

	return []FlowRule{
		// Forward: src leaf -> spine -> dst leaf -> host.
		mk(srcLeaf.DeviceID, fwd, srcLeaf.Uplinks[spine.Name]),
		mk(spine.DeviceID, fwd, spine.Downlinks[dstLeaf.Name]),
		mk(dstLeaf.DeviceID, fwd, dstHost.Port),
		// Reverse on the same spine.
		mk(dstLeaf.DeviceID, rev, dstLeaf.Uplinks[spine.Name]),
		mk(spine.DeviceID, rev, spine.Downlinks[srcLeaf.Name]),
		mk(srcLeaf.DeviceID, rev, srcHost.Port),
	}
}
