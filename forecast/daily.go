// ABOUTME: Daily prediction tracker pairing per-hour forecasts with actuals
// ABOUTME: Cleared on day roll-over; feeds the dashboard accuracy view

package forecast

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/HuaZheng03/dslb/store"
)

// DailyEntry is one hour's predicted vs. actual traffic.
type DailyEntry struct {
	Hour      string   `json:"hour"` // "HH:00"
	Predicted float64  `json:"predicted"`
	Actual    *float64 `json:"actual,omitempty"`
}

type dailyFile struct {
	Date    string       `json:"date"` // YYYY-MM-DD
	Entries []DailyEntry `json:"entries"`
}

// DailyTracker records the day's hourly predictions and fills in actuals as
// each hour completes.
type DailyTracker struct {
	mu   sync.Mutex
	path string
	data dailyFile
}

func NewDailyTracker(path string) *DailyTracker {
	t := &DailyTracker{path: path}
	if err := store.ReadJSON(path, &t.data); err != nil && !os.IsNotExist(err) {
		slog.Warn("Could not load daily predictions, starting empty", "path", path, "error", err)
	}
	return t
}

// AddPrediction records the forecast made for an hour.
func (t *DailyTracker) AddPrediction(hour time.Time, predicted float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked(hour)
	hourStr := hour.Format("15:00")
	for i := range t.data.Entries {
		if t.data.Entries[i].Hour == hourStr {
			t.data.Entries[i].Predicted = predicted
			t.saveLocked()
			return
		}
	}
	t.data.Entries = append(t.data.Entries, DailyEntry{Hour: hourStr, Predicted: predicted})
	t.saveLocked()
}

// UpdateActual fills in the observed traffic for a completed hour.
func (t *DailyTracker) UpdateActual(hour time.Time, actual float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.data.Date != hour.Format("2006-01-02") {
		return
	}
	hourStr := hour.Format("15:00")
	for i := range t.data.Entries {
		if t.data.Entries[i].Hour == hourStr {
			a := actual
			t.data.Entries[i].Actual = &a
			t.saveLocked()
			return
		}
	}
}

// ClearOld resets the tracker when the day has rolled over.
func (t *DailyTracker) ClearOld(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked(now)
}

// Entries returns a copy of the day's entries.
func (t *DailyTracker) Entries() []DailyEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]DailyEntry, len(t.data.Entries))
	copy(out, t.data.Entries)
	return out
}

func (t *DailyTracker) rollLocked(now time.Time) {
	today := now.Format("2006-01-02")
	if t.data.Date != today {
		if t.data.Date != "" {
			slog.Info("New day detected, clearing daily predictions", "previous", t.data.Date)
		}
		t.data = dailyFile{Date: today}
		t.saveLocked()
	}
}

func (t *DailyTracker) saveLocked() {
	if err := store.WriteJSON(t.path, t.data); err != nil {
		slog.Warn("Could not persist daily predictions", "error", err)
	}
}
