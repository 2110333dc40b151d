// ABOUTME: Bounded, categorised, persisted alert journal
// ABOUTME: Thread-safe append with acknowledge/dismiss and size-capped eviction

package alerts

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HuaZheng03/dslb/store"
)

type Type string

const (
	Critical Type = "critical"
	Warning  Type = "warning"
	Success  Type = "success"
	Info     Type = "info"
)

type Category string

const (
	ServerPower        Category = "server_power"
	ServerHealth       Category = "server_health"
	MLModel            Category = "ml_model"
	ConnectionDraining Category = "connection_draining"
	ResourceThreshold  Category = "resource_threshold"
	SystemTelemetry    Category = "system_telemetry"
	NetworkPath        Category = "network_path"
)

// Alert is one journal entry.
type Alert struct {
	ID           string                 `json:"id"`
	Type         Type                   `json:"type"`
	Category     Category               `json:"category"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Timestamp    time.Time              `json:"timestamp"`
	Acknowledged bool                   `json:"acknowledged"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

const (
	maxAlerts      = 100
	retentionHours = 24
)

type journalFile struct {
	Alerts      []Alert    `json:"alerts"`
	LastCleanup *time.Time `json:"last_cleanup"`
}

// Journal is an append-only, size-bounded alert log persisted as JSON.
type Journal struct {
	mu     sync.Mutex
	path   string
	alerts []Alert
}

// NewJournal loads any existing journal file at path, or starts empty.
func NewJournal(path string) *Journal {
	j := &Journal{path: path}

	var f journalFile
	if err := store.ReadJSON(path, &f); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not load alert journal, starting empty", "path", path, "error", err)
		}
		return j
	}
	j.alerts = f.Alerts
	return j
}

// Add appends an alert and returns its id. The journal is trimmed and
// persisted before returning; persistence failure is logged, not fatal.
func (j *Journal) Add(t Type, c Category, title, message string, extra map[string]interface{}) string {
	j.mu.Lock()
	defer j.mu.Unlock()

	a := Alert{
		ID:        uuid.NewString()[:8],
		Type:      t,
		Category:  c,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Extra:     extra,
	}
	j.alerts = append(j.alerts, a)
	j.cleanupLocked()
	j.saveLocked()

	slog.Info("Alert raised", "id", a.ID, "type", t, "category", c, "title", title)
	return a.ID
}

// List returns alerts, newest first, optionally filtered by type and
// acknowledgement state.
func (j *Journal) List(filterType Type, unacknowledgedOnly bool) []Alert {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Alert, 0, len(j.alerts))
	for _, a := range j.alerts {
		if filterType != "" && a.Type != filterType {
			continue
		}
		if unacknowledgedOnly && a.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Timestamp.After(out[k].Timestamp) })
	return out
}

// Acknowledge marks an alert as read. Returns false for unknown ids.
func (j *Journal) Acknowledge(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := range j.alerts {
		if j.alerts[i].ID == id {
			j.alerts[i].Acknowledged = true
			j.saveLocked()
			return true
		}
	}
	return false
}

// Dismiss removes an alert. Returns false for unknown ids.
func (j *Journal) Dismiss(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := range j.alerts {
		if j.alerts[i].ID == id {
			j.alerts = append(j.alerts[:i], j.alerts[i+1:]...)
			j.saveLocked()
			return true
		}
	}
	return false
}

// Counts returns the number of alerts per type plus the unacknowledged total.
func (j *Journal) Counts() map[string]int {
	j.mu.Lock()
	defer j.mu.Unlock()

	counts := map[string]int{
		"total":          len(j.alerts),
		"unacknowledged": 0,
	}
	for _, a := range j.alerts {
		counts[string(a.Type)]++
		if !a.Acknowledged {
			counts["unacknowledged"]++
		}
	}
	return counts
}

// cleanupLocked drops entries older than the retention window and keeps at
// most maxAlerts newest entries.
func (j *Journal) cleanupLocked() {
	cutoff := time.Now().Add(-retentionHours * time.Hour)
	kept := j.alerts[:0]
	for _, a := range j.alerts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	j.alerts = kept

	if len(j.alerts) > maxAlerts {
		sort.Slice(j.alerts, func(i, k int) bool { return j.alerts[i].Timestamp.Before(j.alerts[k].Timestamp) })
		j.alerts = j.alerts[len(j.alerts)-maxAlerts:]
	}
}

func (j *Journal) saveLocked() {
	now := time.Now()
	f := journalFile{Alerts: j.alerts, LastCleanup: &now}
	if err := store.WriteJSON(j.path, f); err != nil {
		slog.Warn("Could not persist alert journal", "path", j.path, "error", err)
	}
}
