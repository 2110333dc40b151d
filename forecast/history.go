// ABOUTME: Persisted hourly traffic history backing forecasts and retraining
// ABOUTME: JSON-file store with per-hour deduplication and windowed reads

package forecast

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/HuaZheng03/dslb/store"
)

// Keep roughly six weeks of hourly records; enough for weekly retraining.
const maxHistoryHours = 42 * 24

// HistoryStore persists hourly request counts.
type HistoryStore struct {
	mu     sync.Mutex
	path   string
	counts []HourlyCount
}

func NewHistoryStore(path string) *HistoryStore {
	h := &HistoryStore{path: path}
	var counts []HourlyCount
	if err := store.ReadJSON(path, &counts); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not load traffic history, starting empty", "path", path, "error", err)
		}
		return h
	}
	h.counts = counts
	return h
}

// Insert records the count for an hour, replacing any existing record for
// the same hour, and persists the store.
func (h *HistoryStore) Insert(hour time.Time, count float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	hour = hour.Truncate(time.Hour)
	replaced := false
	for i := range h.counts {
		if h.counts[i].Timestamp.Equal(hour) {
			h.counts[i].Count = count
			replaced = true
			break
		}
	}
	if !replaced {
		h.counts = append(h.counts, HourlyCount{Timestamp: hour, Count: count})
	}

	sort.Slice(h.counts, func(i, j int) bool { return h.counts[i].Timestamp.Before(h.counts[j].Timestamp) })
	if len(h.counts) > maxHistoryHours {
		h.counts = h.counts[len(h.counts)-maxHistoryHours:]
	}

	return store.WriteJSON(h.path, h.counts)
}

// Window returns the most recent n hourly records, oldest first.
func (h *HistoryStore) Window(n int) []HourlyCount {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > len(h.counts) {
		n = len(h.counts)
	}
	out := make([]HourlyCount, n)
	copy(out, h.counts[len(h.counts)-n:])
	return out
}

// All returns the full history, oldest first.
func (h *HistoryStore) All() []HourlyCount {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HourlyCount, len(h.counts))
	copy(out, h.counts)
	return out
}
