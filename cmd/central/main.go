// ABOUTME: Entry point for the central controller
// ABOUTME: Runs the capacity loop, path loop, and the control-plane HTTP API

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/cache"
	"github.com/HuaZheng03/dslb/capacity"
	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/fabric"
	"github.com/HuaZheng03/dslb/forecast"
	"github.com/HuaZheng03/dslb/handlers"
	"github.com/HuaZheng03/dslb/logger"
	"github.com/HuaZheng03/dslb/metrics"
	"github.com/HuaZheng03/dslb/middleware"
	"github.com/HuaZheng03/dslb/power"
	"github.com/HuaZheng03/dslb/telemetry"
	"github.com/HuaZheng03/dslb/transport"
)

func main() {
	logger.Init("central")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateCentral(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	topo, err := config.LoadTopology(cfg.TopologyFile)
	if err != nil {
		slog.Error("Failed to load topology", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting central controller",
		"backends", len(topo.Backends),
		"leaves", len(topo.Fabric.Leaves),
		"spines", len(topo.Fabric.Spines),
		"mode", cfg.LoadBalancingMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal := alerts.NewJournal(filepath.Join(cfg.DataDir, "system_alerts.json"))
	tel := telemetry.NewClient(cfg.MetricsURL, cfg.ExternalCallTimeout, cfg.CheckInterval)

	// Request exporters back the traffic counting; surface any that are down.
	expCtx, expCancel := context.WithTimeout(ctx, cfg.ExternalCallTimeout)
	if status, err := tel.ExporterStatus(expCtx); err != nil {
		slog.Warn("Could not check request exporter status", "error", err)
	} else {
		for ip, up := range status {
			if !up {
				journal.ExporterDown(ip)
			}
		}
	}
	expCancel()

	// Forecasting stack.
	history := forecast.NewHistoryStore(filepath.Join(cfg.DataDir, "web_traffic_history.json"))
	daily := forecast.NewDailyTracker(filepath.Join(cfg.DataDir, "daily_predictions.json"))
	forecaster := forecast.New(forecast.NewSeasonalModel(), tel, history, daily, journal,
		filepath.Join(cfg.DataDir, "forecast_cache.json"))

	// Power actuation.
	var actuator power.Actuator = power.NoopActuator{}
	if cfg.VSphereConfigured() {
		vs := power.NewVSphereActuator(power.Credentials{
			Host:       cfg.VSphereHost,
			Username:   cfg.VSphereUsername,
			Password:   cfg.VSpherePassword,
			Datacenter: cfg.VSphereDatacenter,
			Insecure:   cfg.VSphereInsecure,
		})
		connectCtx, cancel := context.WithTimeout(ctx, cfg.ExternalCallTimeout)
		err = vs.Connect(connectCtx)
		cancel()
		if err != nil {
			slog.Error("vSphere connection failed", "error", err)
			os.Exit(1)
		}
		defer vs.Disconnect(context.Background())
		actuator = vs
	} else {
		slog.Warn("vSphere not configured; power actions run in dry-run mode")
	}

	// Capacity stack.
	proxyClient := transport.NewHTTPClient(cfg.AllProxy, cfg.ExternalCallTimeout)
	var statusPusher capacity.Pusher
	if cfg.EdgeSyncURL != "" {
		statusPusher = transport.NewHTTPPusher(cfg.EdgeSyncURL, proxyClient)
	} else {
		slog.Warn("EDGE_SYNC_URL not set; status document will not be shipped")
	}
	statusPub := capacity.NewStatusPublisher(cfg.StatusFile, statusPusher, journal, cfg.HeartbeatInterval)
	blacklist := capacity.NewBlacklist(filepath.Join(cfg.DataDir, "blacklist.json"))
	prober := capacity.NewHTTPProber(&http.Client{Timeout: 3 * time.Second}, cfg.NATPort, "/index.html")
	controller := capacity.NewController(cfg, topo, tel, forecaster, actuator, prober, journal, blacklist, statusPub)
	controller.Bootstrap(ctx)

	// Path stack.
	collector := fabric.NewCollector(cfg.SDNControllerURL, cfg.SDNUser, cfg.SDNPassword, proxyClient, journal)
	predictors := fabric.NewPredictorSet(topo, filepath.Join(cfg.DataDir, "path_model_history.json"))
	bwHistory := fabric.NewBandwidthHistory(filepath.Join(cfg.DataDir, "path_bandwidth_history.json"), predictors.PathNames())
	var weightPusher fabric.Pusher
	if cfg.SDNSyncURL != "" {
		weightPusher = transport.NewHTTPPusher(cfg.SDNSyncURL, proxyClient)
	} else {
		slog.Warn("SDN_SYNC_URL not set; weight document will not be shipped")
	}
	publisher := fabric.NewPublisher(cfg, topo, collector, predictors, bwHistory, journal, weightPusher)

	// HTTP API.
	apiCache := cache.New(5 * time.Second)
	defer apiCache.Close()
	h := handlers.NewHandler(journal, publisher, forecaster, statusPub, apiCache)
	mux := http.NewServeMux()
	stack := middleware.NewStack(cfg.CORSAllowedOrigins)
	stack.Route(mux, "/health", h.Health)
	stack.Route(mux, "/current_weights", h.CurrentWeights)
	stack.Route(mux, "/stats", h.Stats)
	stack.Route(mux, "/force_sync", h.ForceSync)
	stack.Route(mux, "/server_status", h.ServerStatus)
	stack.Route(mux, "/forecast", h.Forecast)
	stack.Route(mux, "GET /alerts", h.Alerts)
	stack.Route(mux, "POST /alerts/{id}/acknowledge", h.AcknowledgeAlert)
	stack.Route(mux, "DELETE /alerts/{id}", h.DismissAlert)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				metrics.ForecastAccuracy.Set(forecaster.Accuracy())
			}
		}
	})
	g.Go(func() error {
		slog.Info("API server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("Central controller exited", "error", err)
		os.Exit(1)
	}
	slog.Info("Central controller stopped")
}
