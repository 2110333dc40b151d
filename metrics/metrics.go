// ABOUTME: Exported control-plane metrics via the prometheus client
// ABOUTME: Model accuracy, document pushes, and selection counters

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PathModelAccuracy is the per-path prediction accuracy percentage.
	PathModelAccuracy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dslb_path_model_accuracy_percent",
		Help: "Prediction accuracy per fabric path (100 - SMAPE/2)",
	}, []string{"path"})

	// ForecastAccuracy is the traffic forecast model accuracy percentage.
	ForecastAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dslb_forecast_accuracy_percent",
		Help: "Traffic forecast model accuracy estimate",
	})

	// WeightPushes counts weight-document push attempts by outcome.
	WeightPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dslb_weight_pushes_total",
		Help: "Path-selection document pushes by outcome",
	}, []string{"outcome"})

	// StatusPushes counts status-document push attempts by outcome.
	StatusPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dslb_status_pushes_total",
		Help: "Status document pushes by outcome",
	}, []string{"outcome"})

	// CollectionBytes is the total fabric bytes seen in the last window.
	CollectionBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dslb_collection_window_bytes",
		Help: "Total bytes observed across the fabric in the last collection window",
	})

	// PowerActions counts hypervisor actuations by action and outcome.
	PowerActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dslb_power_actions_total",
		Help: "Hypervisor power actuations by action and outcome",
	}, []string{"action", "outcome"})

	// SpineSelections counts SWRR picks per route and spine.
	SpineSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dslb_spine_selections_total",
		Help: "Smooth-WRR spine selections per route",
	}, []string{"route", "spine"})

	// APIRequests counts control-plane API requests by endpoint and status.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dslb_api_requests_total",
		Help: "Control-plane HTTP API requests by endpoint and status code",
	}, []string{"endpoint", "status"})

	// APILatency observes control-plane API latency per endpoint.
	APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dslb_api_request_seconds",
		Help:    "Control-plane HTTP API request latency per endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
