// ABOUTME: Sequence predictor abstraction and the built-in seasonal model
// ABOUTME: Retraining produces a new model that replaces the reference atomically

package forecast

import (
	"fmt"
	"math"
	"time"
)

// HourlyCount is one hour of observed request traffic.
type HourlyCount struct {
	Timestamp time.Time `json:"timestamp"`
	Count     float64   `json:"count"`
}

// Predictor turns recent hourly history into a next-hour forecast. The
// control plane treats it as a black box; any time-series implementation
// can sit behind this interface.
type Predictor interface {
	Predict(history []HourlyCount) (float64, error)
	// Retrain fits a new predictor on history. It may be slow; callers run
	// it off the capacity loop and swap the reference on completion.
	Retrain(history []HourlyCount) (Predictor, error)
	// Accuracy is the model's current accuracy percentage estimate.
	Accuracy() float64
}

// SeasonalModel predicts the next hour as a blend of the same hour one day
// earlier and an exponentially weighted recent level. It stands in for the
// trained sequence model when no external predictor is plugged in.
type SeasonalModel struct {
	SeasonWeight float64 // share given to the same-hour-yesterday value
	Smoothing    float64 // EWMA factor for the recent level
	accuracy     float64
}

func NewSeasonalModel() *SeasonalModel {
	return &SeasonalModel{SeasonWeight: 0.6, Smoothing: 0.4, accuracy: 0}
}

const hoursPerDay = 24

func (m *SeasonalModel) Predict(history []HourlyCount) (float64, error) {
	if len(history) == 0 {
		return 0, fmt.Errorf("no history")
	}

	level := history[0].Count
	for _, h := range history[1:] {
		level = m.Smoothing*h.Count + (1-m.Smoothing)*level
	}

	if len(history) < hoursPerDay {
		return math.Max(0, level), nil
	}

	seasonal := history[len(history)-hoursPerDay].Count
	value := m.SeasonWeight*seasonal + (1-m.SeasonWeight)*level
	return math.Max(0, value), nil
}

// Retrain re-estimates the blend by scoring candidate season weights
// against one-step-ahead errors over the history and keeping the best.
func (m *SeasonalModel) Retrain(history []HourlyCount) (Predictor, error) {
	if len(history) < hoursPerDay+1 {
		return nil, fmt.Errorf("retrain needs more than one day of history, have %d hours", len(history))
	}

	best := *m
	bestErr := math.Inf(1)
	for _, sw := range []float64{0.2, 0.4, 0.6, 0.8} {
		candidate := SeasonalModel{SeasonWeight: sw, Smoothing: m.Smoothing}
		smape := candidate.backtest(history)
		if smape < bestErr {
			bestErr = smape
			best = candidate
		}
	}

	best.accuracy = 100 - bestErr/2
	if best.accuracy < 0 {
		best.accuracy = 0
	}
	return &best, nil
}

func (m *SeasonalModel) Accuracy() float64 { return m.accuracy }

// backtest returns the SMAPE of one-step-ahead predictions over history.
func (m *SeasonalModel) backtest(history []HourlyCount) float64 {
	var smapeSum float64
	var n int
	for i := hoursPerDay; i < len(history); i++ {
		pred, err := m.Predict(history[:i])
		if err != nil {
			continue
		}
		actual := history[i].Count
		denom := (math.Abs(actual) + math.Abs(pred)) / 2
		if denom == 0 {
			continue
		}
		smapeSum += math.Abs(actual-pred) / denom * 100
		n++
	}
	if n == 0 {
		return 200
	}
	return smapeSum / float64(n)
}
