// ABOUTME: Dynamic Weighted Random Selection over backend load
// ABOUTME: Pure selection core: load score, weight conversion, weighted draw

package dwrs

import (
	"errors"
	"math"
	"sort"

	"github.com/HuaZheng03/dslb/models"
)

// Load score weights in percent: 55% CPU, 45% memory. Kept as whole
// numbers so integer utilisations give an exact load before flooring.
const (
	alpha = 55 // CPU share
	beta  = 45 // memory share
)

// ErrNoCandidates is returned when the candidate set is empty. The edge
// controller retains its previous target in that case.
var ErrNoCandidates = errors.New("dwrs: no selectable backends")

// Candidate pairs a backend with its live sample.
type Candidate struct {
	Backend models.Backend
	Sample  models.LiveSample
	Load    float64
	Weight  int
}

// ComprehensiveLoad folds CPU and memory utilisation into one percentage.
func ComprehensiveLoad(s models.LiveSample) float64 {
	return (s.CPUPct*alpha + s.MemoryPct*beta) / 100
}

// LoadToWeight converts a load percentage to a selection weight in [1,100].
func LoadToWeight(load float64) int {
	if load >= 100 {
		return 1
	}
	w := 100 - int(math.Floor(load))
	if w < 1 {
		w = 1
	}
	return w
}

// Rank computes load and weight for each backend and returns candidates in
// stable address order.
func Rank(backends []models.Backend, samples map[string]models.LiveSample) []Candidate {
	out := make([]Candidate, 0, len(backends))
	for _, b := range backends {
		s, ok := samples[b.Address]
		if !ok || !s.Fresh {
			continue
		}
		load := ComprehensiveLoad(s)
		out = append(out, Candidate{
			Backend: b,
			Sample:  s,
			Load:    load,
			Weight:  LoadToWeight(load),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend.Address < out[j].Backend.Address })
	return out
}

// Select picks a backend from ranked candidates using the draw x, which
// must be uniform in [1, TotalWeight(candidates)]. With one candidate the
// pick is unconditional. The function is pure: same inputs, same output.
func Select(candidates []Candidate, x int) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoCandidates
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	cumulative := 0
	for _, c := range candidates {
		cumulative += c.Weight
		if cumulative >= x {
			return c, nil
		}
	}
	// x beyond the total weight clamps to the last candidate.
	return candidates[len(candidates)-1], nil
}

// TotalWeight sums candidate weights; the draw domain for Select.
func TotalWeight(candidates []Candidate) int {
	total := 0
	for _, c := range candidates {
		total += c.Weight
	}
	return total
}
