package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/cache"
	"github.com/HuaZheng03/dslb/capacity"
	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/fabric"
	"github.com/HuaZheng03/dslb/forecast"
	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/store"
)

func testHandler(t *testing.T) (*Handler, *alerts.Journal, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		LoadBalancingMode:   "realtime",
		HybridPredictionWeight: 0.3,
		MinHistoryWindows:   10,
		CollectionInterval:  time.Minute,
		ExternalCallTimeout: time.Second,
		WeightsFile:         filepath.Join(dir, "weights.json"),
	}
	topo := &config.Topology{
		Backends: []models.Backend{{ID: "b", Address: "10.0.0.1", Tier: 1}},
		Tiers:    []config.TierRange{{Tier: 1, MinRequests: 0, MaxRequests: 0}},
	}

	journal := alerts.NewJournal(filepath.Join(dir, "alerts.json"))
	collector := fabric.NewCollector("http://sdn.example", "", "", nil, journal)
	predictors := fabric.NewPredictorSet(topo, filepath.Join(dir, "model_history.json"))
	history := fabric.NewBandwidthHistory(filepath.Join(dir, "bw_history.json"), predictors.PathNames())
	publisher := fabric.NewPublisher(cfg, topo, collector, predictors, history, journal, nil)

	histStore := forecast.NewHistoryStore(filepath.Join(dir, "traffic.json"))
	daily := forecast.NewDailyTracker(filepath.Join(dir, "daily.json"))
	forecaster := forecast.New(forecast.NewSeasonalModel(), nil, histStore, daily, journal, filepath.Join(dir, "cache.json"))

	status := capacity.NewStatusPublisher(filepath.Join(dir, "status.json"), nil, journal, time.Minute)

	c := cache.New(time.Second)
	t.Cleanup(c.Close)

	return NewHandler(journal, publisher, forecaster, status, c), journal, dir
}

func TestHealth(t *testing.T) {
	h, _, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", resp["status"])
	}
}

func TestCurrentWeights_NotFoundBeforeFirstWindow(t *testing.T) {
	h, _, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.CurrentWeights(w, httptest.NewRequest(http.MethodGet, "/current_weights", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before first document, got %d", w.Code)
	}
}

func TestCurrentWeights_ReturnsDocument(t *testing.T) {
	h, _, dir := testHandler(t)

	doc := models.PathSelectionDocument{
		Metadata: models.WeightMetadata{Iteration: 7, LoadBalancingMode: "realtime"},
		PathSelectionWeights: map[string]models.RouteDetail{
			"leaf1->leaf6": {PathDetails: map[string]models.PathDetail{
				"path_0": {ViaSpine: "spine1", SelectionRatio: 0.25},
				"path_1": {ViaSpine: "spine2", SelectionRatio: 0.75},
			}},
		},
	}
	if err := store.WriteJSON(filepath.Join(dir, "weights.json"), doc); err != nil {
		t.Fatalf("Could not seed weights: %v", err)
	}

	w := httptest.NewRecorder()
	h.CurrentWeights(w, httptest.NewRequest(http.MethodGet, "/current_weights", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp struct {
		Success bool                         `json:"success"`
		Data    models.PathSelectionDocument `json:"data"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Success || resp.Data.Metadata.Iteration != 7 {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if resp.Data.Ratios("leaf1->leaf6").R1 != 0.75 {
		t.Errorf("Unexpected ratios: %+v", resp.Data.Ratios("leaf1->leaf6"))
	}
}

func TestStats(t *testing.T) {
	h, _, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.Stats(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["success"] != true {
		t.Errorf("Expected success=true, got %v", resp)
	}
}

func TestForceSync_RequiresPost(t *testing.T) {
	h, _, _ := testHandler(t)

	w := httptest.NewRecorder()
	h.ForceSync(w, httptest.NewRequest(http.MethodGet, "/force_sync", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", w.Code)
	}
}

func TestAlertsEndpoints(t *testing.T) {
	h, journal, _ := testHandler(t)
	id := journal.Add(alerts.Warning, alerts.ServerHealth, "test", "msg", nil)

	w := httptest.NewRecorder()
	h.Alerts(w, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Alerts []alerts.Alert `json:"alerts"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Alerts) != 1 || resp.Alerts[0].ID != id {
		t.Fatalf("Unexpected alerts: %+v", resp.Alerts)
	}

	// Acknowledge through the path-value route.
	req := httptest.NewRequest(http.MethodPost, "/alerts/"+id+"/acknowledge", nil)
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	h.AcknowledgeAlert(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 acknowledging, got %d", w.Code)
	}

	// Dismiss.
	req = httptest.NewRequest(http.MethodDelete, "/alerts/"+id, nil)
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	h.DismissAlert(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 dismissing, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/alerts/unknown", nil)
	req.SetPathValue("id", "unknown")
	w = httptest.NewRecorder()
	h.DismissAlert(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown id, got %d", w.Code)
	}
}

func TestServerStatus(t *testing.T) {
	h, _, dir := testHandler(t)

	w := httptest.NewRecorder()
	h.ServerStatus(w, httptest.NewRequest(http.MethodGet, "/server_status", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 before first write, got %d", w.Code)
	}

	doc := models.StatusDocument{"10.0.0.1": {Name: "b", IP: "10.0.0.1", Active: true, Healthy: true}}
	if err := store.WriteJSON(filepath.Join(dir, "status.json"), doc); err != nil {
		t.Fatalf("Could not seed status: %v", err)
	}

	w = httptest.NewRecorder()
	h.ServerStatus(w, httptest.NewRequest(http.MethodGet, "/server_status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got models.StatusDocument
	json.NewDecoder(w.Body).Decode(&got)
	if !got["10.0.0.1"].Active {
		t.Errorf("Unexpected status document: %+v", got)
	}
}
