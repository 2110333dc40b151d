// ABOUTME: Smooth weighted round robin over the two paths of each route
// ABOUTME: Accumulators reset when a genuinely new weight distribution arrives

package pathselect

import (
	"sync"

	"github.com/HuaZheng03/dslb/models"
)

// SmoothWRR keeps per-route accumulators and effective integer weights.
// Selection: c_i += e_i; pick argmax; c_selected -= e_0 + e_1.
type SmoothWRR struct {
	mu      sync.Mutex
	ratios  map[string]models.RouteWeights
	current map[string][2]int
}

func NewSmoothWRR() *SmoothWRR {
	return &SmoothWRR{
		ratios:  map[string]models.RouteWeights{},
		current: map[string][2]int{},
	}
}

// SetRatios installs a new weight distribution. Accumulators are zeroed
// only for routes whose ratios actually changed, so re-applying an
// identical document is a no-op.
func (s *SmoothWRR) SetRatios(ratios map[string]models.RouteWeights) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for route, w := range ratios {
		if prev, ok := s.ratios[route]; ok && prev == w {
			continue
		}
		s.ratios[route] = w
		s.current[route] = [2]int{0, 0}
	}
}

// Select picks the path index (0 or 1) for a new flow on the route.
// Unknown routes fall back to an even split.
func (s *SmoothWRR) Select(routeKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.ratios[routeKey]
	if !ok || w.R0+w.R1 <= 0 {
		w = models.RouteWeights{R0: 0.5, R1: 0.5}
	}

	sum := w.R0 + w.R1
	e0 := int(roundHalfUp(w.R0 / sum * 100))
	e1 := int(roundHalfUp(w.R1 / sum * 100))
	total := e0 + e1

	acc := s.current[routeKey]
	acc[0] += e0
	acc[1] += e1

	selected := 1
	if acc[0] > acc[1] {
		selected = 0
	}
	acc[selected] -= total
	s.current[routeKey] = acc
	return selected
}

// Accumulators exposes the current accumulator pair for a route.
func (s *SmoothWRR) Accumulators(routeKey string) [2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current[routeKey]
}

func roundHalfUp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return float64(int(v + 0.5))
}
