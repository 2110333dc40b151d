// ABOUTME: Hourly traffic forecaster with caching and retrain escalation
// ABOUTME: At most one forecast per natural clock hour; failures fall back to cache

package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/store"
)

// Hours of history fed to the predictor for a single forecast.
const forecastWindowHours = 24

// TrafficSource supplies observed request counts from the metrics DB.
type TrafficSource interface {
	HourlyRequestCount(ctx context.Context, lookbackHours int) (float64, error)
}

// PerServerSource optionally supplies the per-backend traffic breakdown.
type PerServerSource interface {
	PerServerRequestCounts(ctx context.Context, lookbackHours int) (map[string]float64, error)
}

// Forecaster caches one forecast per natural hour and escalates repeated
// evaluation failures into an asynchronous retraining request.
type Forecaster struct {
	mu        sync.Mutex
	model     Predictor
	cache     models.Forecast
	cachePath string

	source  TrafficSource
	history *HistoryStore
	daily   *DailyTracker
	journal *alerts.Journal

	failures   int
	retraining bool
	group      singleflight.Group
}

func New(model Predictor, source TrafficSource, history *HistoryStore, daily *DailyTracker, journal *alerts.Journal, cachePath string) *Forecaster {
	f := &Forecaster{
		model:     model,
		source:    source,
		history:   history,
		daily:     daily,
		journal:   journal,
		cachePath: cachePath,
	}

	var cached models.Forecast
	if err := store.ReadJSON(cachePath, &cached); err == nil {
		if cached.Valid(time.Now()) {
			f.cache = cached
			slog.Info("Loaded valid forecast from cache", "value", cached.Value, "valid_until", cached.ValidUntil)
		}
	} else if !os.IsNotExist(err) {
		slog.Warn("Could not read forecast cache", "path", cachePath, "error", err)
	}
	return f
}

// Cached returns the current cached forecast without triggering evaluation.
func (f *Forecaster) Cached() models.Forecast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache
}

// Accuracy reports the active model's accuracy estimate.
func (f *Forecaster) Accuracy() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model.Accuracy()
}

// Hourly returns the forecast for the current hour, evaluating the model
// only when the cache has expired. Concurrent callers share one evaluation.
func (f *Forecaster) Hourly(ctx context.Context, now time.Time) (models.Forecast, error) {
	f.mu.Lock()
	if f.cache.Valid(now) {
		cached := f.cache
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	v, err, _ := f.group.Do("hourly", func() (interface{}, error) {
		return f.generate(ctx, now)
	})
	if err != nil {
		return models.Forecast{}, err
	}
	return v.(models.Forecast), nil
}

// RecordObservedHour stores the previous hour's actual traffic and updates
// the daily prediction tracker.
func (f *Forecaster) RecordObservedHour(ctx context.Context, now time.Time) {
	actual, err := f.source.HourlyRequestCount(ctx, 1)
	if err != nil {
		slog.Warn("Could not query previous hour's traffic", "error", err)
		return
	}

	prevHour := now.Add(-time.Hour).Truncate(time.Hour)
	if err := f.history.Insert(prevHour, actual); err != nil {
		slog.Warn("Could not persist hourly traffic", "error", err)
	}
	f.daily.UpdateActual(prevHour, actual)
	slog.Info("Recorded previous hour's traffic", "hour", prevHour.Format("15:00"), "requests", int64(actual))

	if perServer, ok := f.source.(PerServerSource); ok {
		if counts, err := perServer.PerServerRequestCounts(ctx, 1); err == nil {
			for ip, count := range counts {
				slog.Debug("Per-server traffic", "server", ip, "requests", int64(count))
			}
		}
	}
}

func (f *Forecaster) generate(ctx context.Context, now time.Time) (models.Forecast, error) {
	// Re-check under the lock: another caller may have refreshed the cache
	// while this one waited in the singleflight queue.
	f.mu.Lock()
	if f.cache.Valid(now) {
		cached := f.cache
		f.mu.Unlock()
		return cached, nil
	}
	model := f.model
	f.mu.Unlock()

	f.RecordObservedHour(ctx, now)
	f.daily.ClearOld(now)

	window := f.history.Window(forecastWindowHours)
	value, err := model.Predict(window)
	if err != nil {
		return f.handleFailure(err, now)
	}

	fc := models.Forecast{
		Value:      value,
		ValidUntil: now.Truncate(time.Hour).Add(time.Hour),
	}

	f.mu.Lock()
	f.cache = fc
	f.failures = 0
	f.mu.Unlock()

	if err := store.WriteJSON(f.cachePath, fc); err != nil {
		slog.Warn("Could not persist forecast cache", "error", err)
	}
	f.daily.AddPrediction(now.Truncate(time.Hour), value)

	slog.Info("New forecast generated", "value", value, "valid_until", fc.ValidUntil)
	return fc, nil
}

// handleFailure reuses the previous cached value and, on the second
// consecutive failure, schedules an asynchronous retrain.
func (f *Forecaster) handleFailure(evalErr error, now time.Time) (models.Forecast, error) {
	f.journal.ForecastFailed(evalErr.Error())

	f.mu.Lock()
	f.failures++
	failures := f.failures
	cached := f.cache
	shouldRetrain := failures >= 2 && !f.retraining
	if shouldRetrain {
		f.retraining = true
	}
	f.mu.Unlock()

	if shouldRetrain {
		f.journal.ModelRetrainingStarted("traffic-forecast")
		go f.retrain()
	}

	if cached.Value > 0 {
		slog.Warn("Forecast evaluation failed, reusing cached value", "value", cached.Value, "failures", failures)
		return cached, nil
	}
	return models.Forecast{}, fmt.Errorf("forecast evaluation failed with no cached value: %w", evalErr)
}

// retrain fits a replacement model on the full history and swaps it in.
// It never blocks the capacity loop.
func (f *Forecaster) retrain() {
	defer func() {
		f.mu.Lock()
		f.retraining = false
		f.mu.Unlock()
	}()

	f.mu.Lock()
	model := f.model
	f.mu.Unlock()

	replacement, err := model.Retrain(f.history.All())
	if err != nil {
		slog.Error("Model retraining failed", "error", err)
		return
	}

	f.mu.Lock()
	f.model = replacement
	f.failures = 0
	f.mu.Unlock()

	f.journal.ModelRetrainingComplete("traffic-forecast", replacement.Accuracy())
	slog.Info("Forecast model replaced", "accuracy", replacement.Accuracy())
}
