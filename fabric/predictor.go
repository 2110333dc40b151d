// ABOUTME: Per-path bandwidth predictors with smoothing and volatility channels
// ABOUTME: One model per (leaf pair, spine); both directions share a model

package fabric

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/store"
)

const (
	smoothingWindow = 5
	maxWindows      = 60 // one hour of one-minute windows per path
)

// PathModel is a small time-series model over one path's windowed bytes.
type PathModel struct {
	history []float64 // windowed bytes, oldest first

	// One-step-ahead scoring of past predictions.
	lastPrediction float64
	havePrediction bool
	smapeSum       float64
	smapeCount     int
}

// Observe appends a window and scores the pending prediction against it.
func (m *PathModel) Observe(bytes float64) {
	if m.havePrediction {
		denom := (math.Abs(bytes) + math.Abs(m.lastPrediction)) / 2
		if denom > 0 {
			m.smapeSum += math.Abs(bytes-m.lastPrediction) / denom * 100
			m.smapeCount++
		}
		m.havePrediction = false
	}

	m.history = append(m.history, bytes)
	if len(m.history) > maxWindows {
		m.history = m.history[len(m.history)-maxWindows:]
	}
}

// Predict returns the next-window byte estimate. The history is smoothed
// with a centered moving average; a volatility channel damps the trend
// extrapolation when the path is noisy. Returns an error with no history.
func (m *PathModel) Predict() (float64, error) {
	n := len(m.history)
	if n == 0 {
		return 0, fmt.Errorf("no history")
	}

	smoothed := centeredMovingAverage(m.history, smoothingWindow)
	last := smoothed[n-1]
	if n == 1 {
		m.lastPrediction = math.Max(0, last)
		m.havePrediction = true
		return m.lastPrediction, nil
	}

	trend := last - smoothed[n-2]
	vol := rollingStd(smoothed, smoothingWindow)

	// Full trend extrapolation on calm paths, none on fully volatile ones.
	damp := 1.0
	if last > 0 {
		damp = 1 - math.Min(1, vol/last)
	}
	pred := math.Max(0, last+trend*damp)

	m.lastPrediction = pred
	m.havePrediction = true
	return pred, nil
}

// LastObserved returns the most recent window, the fallback value when
// prediction fails.
func (m *PathModel) LastObserved() float64 {
	if len(m.history) == 0 {
		return 0
	}
	return m.history[len(m.history)-1]
}

// Windows reports how much history the model holds.
func (m *PathModel) Windows() int { return len(m.history) }

// Accuracy is 100 - SMAPE/2 over scored one-step-ahead predictions,
// bounded to [0, 100]. Zero until at least one prediction was scored.
func (m *PathModel) Accuracy() float64 {
	if m.smapeCount == 0 {
		return 0
	}
	acc := 100 - (m.smapeSum/float64(m.smapeCount))/2
	if acc < 0 {
		acc = 0
	}
	return acc
}

func centeredMovingAverage(values []float64, window int) []float64 {
	half := window / 2
	out := make([]float64, len(values))
	for i := range values {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi >= len(values) {
			hi = len(values) - 1
		}
		var sum float64
		for _, v := range values[lo : hi+1] {
			sum += v
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

func rollingStd(values []float64, window int) float64 {
	lo := len(values) - window
	if lo < 0 {
		lo = 0
	}
	tail := values[lo:]
	var mean float64
	for _, v := range tail {
		mean += v
	}
	mean /= float64(len(tail))

	var variance float64
	for _, v := range tail {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(tail))
	return math.Sqrt(variance)
}

// PredictorSet owns one model per canonical path name and the persisted
// history that lets predictions resume across restarts.
type PredictorSet struct {
	mu         sync.Mutex
	models     map[string]*PathModel
	path       string
	iterations int
}

type predictorFile struct {
	Iterations int                  `json:"iterations"`
	Histories  map[string][]float64 `json:"histories"`
}

// NewPredictorSet builds models for every canonical path in the topology
// and rehydrates persisted history when present.
func NewPredictorSet(topo *config.Topology, historyPath string) *PredictorSet {
	set := &PredictorSet{
		models: map[string]*PathModel{},
		path:   historyPath,
	}
	for _, route := range topo.Routes() {
		for _, spine := range topo.Fabric.Spines {
			name := models.PathName(route, spine.Name)
			if _, ok := set.models[name]; !ok {
				set.models[name] = &PathModel{}
			}
		}
	}

	var persisted predictorFile
	if err := store.ReadJSON(historyPath, &persisted); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not load path history, starting fresh", "path", historyPath, "error", err)
		}
		return set
	}

	set.iterations = persisted.Iterations
	loaded := 0
	for name, hist := range persisted.Histories {
		if m, ok := set.models[name]; ok {
			m.history = hist
			loaded++
		}
	}
	if loaded > 0 {
		slog.Info("Resumed path prediction history", "paths", loaded, "iterations", set.iterations)
	}
	return set
}

// Observe records one collection window for every sampled path and
// persists the updated histories.
func (s *PredictorSet) Observe(samples []models.PathSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for _, ps := range samples {
		name := models.PathName(ps.Route, ps.Spine)
		if seen[name] {
			continue
		}
		seen[name] = true
		if m, ok := s.models[name]; ok {
			m.Observe(float64(ps.Bytes))
		}
	}
	s.iterations++
	s.saveLocked()
}

// Iterations returns the number of windows observed so far.
func (s *PredictorSet) Iterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterations
}

// Predict returns the next-window estimate for a path, falling back to the
// last observed value (with fellBack=true) when the model cannot predict.
func (s *PredictorSet) Predict(name string) (value float64, fellBack bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[name]
	if !ok {
		return 0, true
	}
	pred, err := m.Predict()
	if err != nil {
		return m.LastObserved(), true
	}
	return pred, false
}

// MinWindows reports the smallest history depth across all models; the
// cold-start gate compares it against the configured minimum.
func (s *PredictorSet) MinWindows() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	min := math.MaxInt
	for _, m := range s.models {
		if m.Windows() < min {
			min = m.Windows()
		}
	}
	if min == math.MaxInt {
		return 0
	}
	return min
}

// Accuracies returns the per-path accuracy estimates.
func (s *PredictorSet) Accuracies() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]float64{}
	for name, m := range s.models {
		out[name] = m.Accuracy()
	}
	return out
}

// AverageAccuracy is the mean of scored model accuracies.
func (s *PredictorSet) AverageAccuracy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum float64
	var n int
	for _, m := range s.models {
		if m.smapeCount > 0 {
			sum += m.Accuracy()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// PathNames returns the canonical names of every model, sorted.
func (s *PredictorSet) PathNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.models))
	for name := range s.models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *PredictorSet) saveLocked() {
	f := predictorFile{Iterations: s.iterations, Histories: map[string][]float64{}}
	for name, m := range s.models {
		f.Histories[name] = m.history
	}
	if err := store.WriteJSON(s.path, f); err != nil {
		slog.Warn("Could not persist path history", "error", err)
	}
}
