// ABOUTME: Sliding-window path bandwidth history for the dashboard
// ABOUTME: Pairs each window's prediction with the actual once it lands

package fabric

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/HuaZheng03/dslb/store"
)

const maxHistoryEntries = 15

// PathPoint is one path's predicted and actual megabytes for a window.
type PathPoint struct {
	PredictedMB *float64 `json:"predicted_mb,omitempty"`
	ActualMB    *float64 `json:"actual_mb,omitempty"`
	Source      string   `json:"source"`
}

// HistoryEntry is one completed collection window.
type HistoryEntry struct {
	Timestamp string               `json:"timestamp"`
	Time      string               `json:"time"`
	Paths     map[string]PathPoint `json:"paths"`
}

// nextPredictions holds the predictions made for the window now starting;
// the actuals arrive one iteration later.
type nextPredictions struct {
	Timestamp string               `json:"timestamp"`
	Iteration int                  `json:"iteration"`
	Mode      string               `json:"mode"`
	Paths     map[string]PathPoint `json:"paths"`
}

type bandwidthFile struct {
	LastUpdated      string           `json:"last_updated"`
	Iteration        int              `json:"iteration"`
	UsingPredictions bool             `json:"using_predictions"`
	MaxEntries       int              `json:"max_entries"`
	Paths            []string         `json:"paths"`
	NextPredictions  *nextPredictions `json:"next_predictions"`
	History          []HistoryEntry   `json:"history"`
}

// BandwidthHistory persists the recent predicted-vs-actual record per path.
type BandwidthHistory struct {
	mu   sync.Mutex
	path string
	data bandwidthFile
}

func NewBandwidthHistory(path string, pathNames []string) *BandwidthHistory {
	h := &BandwidthHistory{path: path}
	h.data.MaxEntries = maxHistoryEntries
	h.data.Paths = pathNames

	var persisted bandwidthFile
	if err := store.ReadJSON(path, &persisted); err == nil {
		h.data = persisted
		h.data.Paths = pathNames
	} else if !os.IsNotExist(err) {
		slog.Warn("Could not load bandwidth history, starting fresh", "path", path, "error", err)
	}
	return h
}

const historyLayout = "2006-01-02 15:04:05"

// RecordWindow appends the completed window's actuals, joined with the
// predictions saved for it on the previous iteration, then stores the new
// predictions for the window just starting.
func (h *BandwidthHistory) RecordWindow(windowStart, windowEnd time.Time, iteration int, mode string,
	usingPredictions bool, actualMB map[string]float64, predictedMB map[string]float64) {

	h.mu.Lock()
	defer h.mu.Unlock()

	startStr := windowStart.Format(historyLayout)
	entry := HistoryEntry{
		Timestamp: startStr,
		Time:      windowStart.Format("15:04"),
		Paths:     map[string]PathPoint{},
	}

	// Predictions for the window being recorded were stashed last round.
	var prior map[string]PathPoint
	if h.data.NextPredictions != nil && h.data.NextPredictions.Timestamp == startStr {
		prior = h.data.NextPredictions.Paths
	}

	for _, name := range h.data.Paths {
		point := PathPoint{Source: "realtime"}
		if v, ok := actualMB[name]; ok {
			a := round2(v)
			point.ActualMB = &a
		}
		if prior != nil {
			if p, ok := prior[name]; ok && p.PredictedMB != nil {
				point.PredictedMB = p.PredictedMB
				point.Source = "prediction"
			}
		}
		entry.Paths[name] = point
	}

	h.data.History = append(h.data.History, entry)
	if len(h.data.History) > h.data.MaxEntries {
		h.data.History = h.data.History[len(h.data.History)-h.data.MaxEntries:]
	}

	h.data.LastUpdated = startStr
	h.data.Iteration = iteration
	h.data.UsingPredictions = usingPredictions

	if usingPredictions && len(predictedMB) > 0 {
		next := &nextPredictions{
			Timestamp: windowEnd.Format(historyLayout),
			Iteration: iteration,
			Mode:      mode,
			Paths:     map[string]PathPoint{},
		}
		for name, v := range predictedMB {
			p := round2(v)
			next.Paths[name] = PathPoint{PredictedMB: &p, Source: mode}
		}
		h.data.NextPredictions = next
	} else {
		h.data.NextPredictions = nil
	}

	if err := store.WriteJSON(h.path, h.data); err != nil {
		slog.Warn("Could not persist bandwidth history", "error", err)
	}
}

// Snapshot returns a copy of the history entries, newest last.
func (h *BandwidthHistory) Snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.data.History))
	copy(out, h.data.History)
	return out
}
