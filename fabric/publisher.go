// ABOUTME: Path loop: collect, predict, derive weights, publish the document
// ABOUTME: Minute-aligned windows; atomic writes; bounded-retry push to the SDN host

package fabric

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/metrics"
	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/store"
)

// Pusher ships the weight document to the SDN controller host.
type Pusher interface {
	Push(ctx context.Context, doc interface{}) error
}

// PushStats are the counters exposed on /stats.
type PushStats struct {
	TotalPushes      int    `json:"total_pushes"`
	SuccessfulPushes int    `json:"successful_pushes"`
	FailedPushes     int    `json:"failed_pushes"`
	LastPushTime     string `json:"last_push_time,omitempty"`
	LastError        string `json:"last_error,omitempty"`
}

// LastCollection summarises the most recent window for /stats.
type LastCollection struct {
	TotalBytes int64   `json:"total_bytes"`
	TotalMB    float64 `json:"total_mb"`
	Devices    int     `json:"devices"`
}

// Publisher runs the path-weight control loop.
type Publisher struct {
	topo       *config.Topology
	collector  *Collector
	predictors *PredictorSet
	history    *BandwidthHistory
	journal    *alerts.Journal
	pusher     Pusher

	mode         string
	hybridWeight float64
	minWindows   int
	interval     time.Duration
	callTimeout  time.Duration
	weightsFile  string
	accuracyFile string

	mu             sync.Mutex
	stats          PushStats
	lastCollection LastCollection
}

func NewPublisher(cfg *config.Config, topo *config.Topology, collector *Collector, predictors *PredictorSet,
	history *BandwidthHistory, journal *alerts.Journal, pusher Pusher) *Publisher {

	return &Publisher{
		topo:         topo,
		collector:    collector,
		predictors:   predictors,
		history:      history,
		journal:      journal,
		pusher:       pusher,
		mode:         cfg.LoadBalancingMode,
		hybridWeight: cfg.HybridPredictionWeight,
		minWindows:   cfg.MinHistoryWindows,
		interval:     cfg.CollectionInterval,
		callTimeout:  cfg.ExternalCallTimeout,
		weightsFile:  cfg.WeightsFile,
		accuracyFile: filepath.Join(cfg.DataDir, "path_model_accuracy.json"),
	}
}

// Run drives minute-aligned collection windows until cancellation.
func (p *Publisher) Run(ctx context.Context) error {
	slog.Info("Path loop starting", "mode", p.mode, "interval", p.interval)

	if err := sleepUntilBoundary(ctx, p.interval); err != nil {
		return err
	}

	prevStats, err := p.snapshot(ctx)
	prevAt := time.Now()
	if err != nil {
		slog.Warn("Initial port snapshot failed; will retry next window", "error", err)
		p.journal.SDNConnectionFailed("port statistics", err.Error())
	}

	for {
		if err := sleepUntilBoundary(ctx, p.interval); err != nil {
			return err
		}

		curStats, err := p.snapshot(ctx)
		curAt := time.Now()
		if err != nil {
			slog.Warn("Port snapshot failed; skipping window", "error", err)
			p.journal.SDNConnectionFailed("port statistics", err.Error())
			prevStats = nil
			continue
		}

		if prevStats != nil {
			p.processWindow(ctx, prevStats, curStats, prevAt, curAt)
		}
		prevStats = curStats
		prevAt = curAt
	}
}

func (p *Publisher) snapshot(ctx context.Context) (PortStats, error) {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return p.collector.PortStats(cctx)
}

// processWindow turns one completed window into a published document.
func (p *Publisher) processWindow(ctx context.Context, prev, cur PortStats, windowStart, windowEnd time.Time) {
	usage := p.collector.WindowDelta(prev, cur)
	samples := PathBytes(p.topo, usage)

	totalBytes := TotalBytes(usage)
	metrics.CollectionBytes.Set(float64(totalBytes))

	p.mu.Lock()
	p.lastCollection = LastCollection{
		TotalBytes: totalBytes,
		TotalMB:    round2(float64(totalBytes) / (1024 * 1024)),
		Devices:    len(usage),
	}
	p.mu.Unlock()

	// Score last round's predictions against this window, then extend
	// every model's history.
	p.predictors.Observe(samples)
	iteration := p.predictors.Iterations()

	usingPredictions := p.mode != "realtime" && p.predictors.MinWindows() >= p.minWindows
	if p.mode != "realtime" && !usingPredictions {
		slog.Info("Building path history before predictions activate",
			"windows", p.predictors.MinWindows(), "required", p.minWindows)
	}

	results, predictedMB := p.computeRoutes(samples, usingPredictions)

	doc := buildDocument(results, iteration, p.mode, usingPredictions,
		windowStart, windowEnd, int(p.interval.Seconds()), float64(totalBytes)/(1024*1024))

	p.history.RecordWindow(windowStart, windowEnd, iteration, p.mode, usingPredictions,
		actualMBByPath(samples), predictedMB)

	accuracies := p.predictors.Accuracies()
	for name, acc := range accuracies {
		metrics.PathModelAccuracy.WithLabelValues(name).Set(acc)
	}
	if err := store.WriteJSON(p.accuracyFile, map[string]interface{}{
		"average_accuracy_percentage": round2(p.predictors.AverageAccuracy()),
		"accuracy_formula":            "100% - (SMAPE / 2)",
		"models":                      accuracies,
	}); err != nil {
		slog.Warn("Could not persist model accuracy", "error", err)
	}

	if err := store.WriteJSON(p.weightsFile, doc); err != nil {
		slog.Error("Could not write weight document", "error", err)
		return
	}
	p.push(ctx, doc)
}

// computeRoutes derives costs and ratios per directed route.
func (p *Publisher) computeRoutes(samples []models.PathSample, usingPredictions bool) ([]routeResult, map[string]float64) {
	observed := map[string]float64{}
	for _, s := range samples {
		observed[models.PathName(s.Route, s.Spine)] = float64(s.Bytes)
	}

	spines := make([]string, len(p.topo.Fabric.Spines))
	for i, s := range p.topo.Fabric.Spines {
		spines[i] = s.Name
	}

	predictedMB := map[string]float64{}
	var results []routeResult
	for _, route := range p.topo.Routes() {
		costs := map[int]float64{}
		source := "realtime"

		for idx, spine := range spines {
			name := models.PathName(route, spine)
			actual := observed[name]

			switch {
			case usingPredictions && p.mode == "prediction":
				pred, fellBack := p.predictors.Predict(name)
				if fellBack {
					p.journal.PathPredictionFallback(name, "insufficient model state")
					costs[idx] = actual
				} else {
					costs[idx] = pred
					source = "prediction"
					predictedMB[name] = pred / (1024 * 1024)
				}
			case usingPredictions && p.mode == "hybrid":
				pred, fellBack := p.predictors.Predict(name)
				if fellBack {
					costs[idx] = actual
				} else {
					costs[idx] = p.hybridWeight*pred + (1-p.hybridWeight)*actual
					source = "hybrid"
					predictedMB[name] = pred / (1024 * 1024)
				}
			default:
				costs[idx] = actual
			}
		}

		results = append(results, routeResult{
			route:  route,
			costs:  costs,
			ratios: RatiosFromCosts(costs),
			source: source,
			spines: spines,
		})
	}
	return results, predictedMB
}

func actualMBByPath(samples []models.PathSample) map[string]float64 {
	out := map[string]float64{}
	for _, s := range samples {
		out[models.PathName(s.Route, s.Spine)] = float64(s.Bytes) / (1024 * 1024)
	}
	return out
}

// push ships the document and updates the counters.
func (p *Publisher) push(ctx context.Context, doc models.PathSelectionDocument) {
	var err error
	if p.pusher != nil {
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = p.pusher.Push(pctx, doc)
		cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalPushes++
	if err != nil {
		p.stats.FailedPushes++
		p.stats.LastError = err.Error()
		metrics.WeightPushes.WithLabelValues("failure").Inc()
		slog.Warn("Weight document push failed", "error", err)
		return
	}
	p.stats.SuccessfulPushes++
	p.stats.LastPushTime = time.Now().Format("2006-01-02 15:04:05")
	p.stats.LastError = ""
	metrics.WeightPushes.WithLabelValues("success").Inc()
	slog.Info("Weight document synced to SDN host", "iteration", p.predictors.Iterations())
}

// Stats returns a copy of the push counters and the last collection summary.
func (p *Publisher) Stats() (PushStats, LastCollection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats, p.lastCollection
}

// CurrentDocument reads the published document back from disk.
func (p *Publisher) CurrentDocument() (models.PathSelectionDocument, error) {
	var doc models.PathSelectionDocument
	if err := store.ReadJSON(p.weightsFile, &doc); err != nil {
		return models.PathSelectionDocument{}, err
	}
	return doc, nil
}

// ForceSync re-pushes the last written document on operator request.
func (p *Publisher) ForceSync(ctx context.Context) error {
	doc, err := p.CurrentDocument()
	if err != nil {
		return err
	}
	p.push(ctx, doc)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stats.LastError != "" {
		return errors.New(p.stats.LastError)
	}
	return nil
}

// sleepUntilBoundary waits for the next interval boundary on the wall
// clock, so windows align to whole minutes.
func sleepUntilBoundary(ctx context.Context, interval time.Duration) error {
	now := time.Now()
	next := now.Truncate(interval).Add(interval)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(next.Sub(now)):
		return nil
	}
}
