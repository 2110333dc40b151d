// ABOUTME: Weight-document file watcher for the SDN-side selector
// ABOUTME: Polls mtime; reloads ratios so new flows follow the new distribution

package pathselect

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/store"
)

const fileCheckInterval = 5 * time.Second

// Watcher reloads the path-selection document whenever its mtime advances
// and feeds the new ratios to the selector's scheduler. Existing flows
// keep their spine until their rules idle out.
type Watcher struct {
	path         string
	wrr          *SmoothWRR
	lastModified time.Time
}

func NewWatcher(path string, wrr *SmoothWRR) *Watcher {
	return &Watcher{path: path, wrr: wrr}
}

// Run polls until cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(fileCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.CheckOnce(); err != nil {
				slog.Warn("Weights reload error", "error", err)
			}
		}
	}
}

// CheckOnce reloads the document if the file changed since the last load.
func (w *Watcher) CheckOnce() error {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.ModTime().After(w.lastModified) {
		return nil
	}
	w.lastModified = info.ModTime()
	return w.Apply()
}

// Apply loads the document and installs its ratios.
func (w *Watcher) Apply() error {
	var doc models.PathSelectionDocument
	if err := store.ReadJSON(w.path, &doc); err != nil {
		return err
	}

	ratios := map[string]models.RouteWeights{}
	for routeKey := range doc.PathSelectionWeights {
		ratios[routeKey] = doc.Ratios(routeKey)
	}
	w.wrr.SetRatios(ratios)
	slog.Info("Weights reloaded", "path", w.path, "routes", len(ratios))
	return nil
}
