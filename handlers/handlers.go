// ABOUTME: HTTP handlers for the central controller API
// ABOUTME: Weights, stats, force sync, server status, forecast, and alerts

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/cache"
	"github.com/HuaZheng03/dslb/capacity"
	"github.com/HuaZheng03/dslb/fabric"
	"github.com/HuaZheng03/dslb/forecast"
	"github.com/HuaZheng03/dslb/models"
)

type Handler struct {
	journal    *alerts.Journal
	publisher  *fabric.Publisher
	forecaster *forecast.Forecaster
	status     *capacity.StatusPublisher
	cache      *cache.Cache
}

func NewHandler(journal *alerts.Journal, publisher *fabric.Publisher, forecaster *forecast.Forecaster, status *capacity.StatusPublisher, c *cache.Cache) *Handler {
	return &Handler{
		journal:    journal,
		publisher:  publisher,
		forecaster: forecaster,
		status:     status,
		cache:      c,
	}
}

// Health reports liveness plus push statistics.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	push, _ := h.publisher.Stats()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"push_statistics": push,
	})
}

// CurrentWeights returns the live path-selection document. Reads are
// cached briefly so dashboard polling does not hit the disk every time.
func (h *Handler) CurrentWeights(w http.ResponseWriter, r *http.Request) {
	if cached, found := h.cache.Get("weights:current"); found {
		h.writeJSON(w, http.StatusOK, cached)
		return
	}

	doc, err := h.publisher.CurrentDocument()
	if err != nil {
		if os.IsNotExist(err) {
			h.writeError(w, "Weights file not found yet", http.StatusNotFound)
			return
		}
		slog.Error("Could not read weight document", "error", err)
		h.writeError(w, "Failed to read weight document", http.StatusInternalServerError)
		return
	}
	resp := map[string]interface{}{
		"success": true,
		"data":    doc,
	}
	h.cache.Set("weights:current", resp)
	h.writeJSON(w, http.StatusOK, resp)
}

// Stats returns push counters and the last collection summary.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	push, last := h.publisher.Stats()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"push_stats":      push,
		"last_collection": last,
	})
}

// ForceSync immediately re-pushes the weight document to the SDN host.
func (h *Handler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.publisher.ForceSync(r.Context()); err != nil {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "Sync failed: " + err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Sync completed",
	})
}

// ServerStatus returns the authoritative status document.
func (h *Handler) ServerStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := h.status.Load()
	if err != nil {
		if os.IsNotExist(err) {
			h.writeError(w, "Status document not written yet", http.StatusNotFound)
			return
		}
		h.writeError(w, "Failed to read status document", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// Forecast returns the cached forecast and model accuracy.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"forecast": h.forecaster.Cached(),
		"accuracy": h.forecaster.Accuracy(),
	})
}

// Alerts lists journal entries, filterable by type and acknowledgement.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	filterType := alerts.Type(r.URL.Query().Get("type"))
	unackOnly := r.URL.Query().Get("unacknowledged") == "true"

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": h.journal.List(filterType, unackOnly),
		"counts": h.journal.Counts(),
	})
}

// AcknowledgeAlert marks one alert as read.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.journal.Acknowledge(id) {
		h.writeError(w, "Unknown alert id", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// DismissAlert removes one alert.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.journal.Dismiss(id) {
		h.writeError(w, "Unknown alert id", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg, Code: code})
}
