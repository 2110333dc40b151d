// ABOUTME: Entry point for the edge controller at the NAT box
// ABOUTME: Runs the DWRS loop, NAT commits, and the document receiver endpoints

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

	"golang.org/x/sync/errgroup"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/edge"
	"github.com/HuaZheng03/dslb/logger"
	"github.com/HuaZheng03/dslb/middleware"
	"github.com/HuaZheng03/dslb/nat"
	"github.com/HuaZheng03/dslb/telemetry"
)

func main() {
	logger.Init("edge")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateEdge(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	topo, err := config.LoadTopology(cfg.TopologyFile)
	if err != nil {
		slog.Error("Failed to load topology", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting edge controller",
		"public_ip", cfg.PublicIP,
		"interface", cfg.PublicInterface,
		"backends", len(topo.Backends))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal := alerts.NewJournal(filepath.Join(cfg.DataDir, "edge_alerts.json"))
	tel := telemetry.NewClient(cfg.MetricsURL, cfg.ExternalCallTimeout, cfg.CheckInterval)

	natc := nat.NewController(cfg.PublicIP, cfg.PublicInterface, cfg.NATPort, nil)
	if err := natc.EnableIPForwarding(); err != nil {
		slog.Error("Could not enable IP forwarding", "error", err)
		os.Exit(1)
	}

	controller := edge.NewController(cfg, topo, tel, natc, journal)

	// Receiver endpoints for documents pushed by the central controller.
	// The weight receiver lands the path-selection document next to the
	// SDN controller hosted on this box.
	mux := http.NewServeMux()
	mux.Handle("/replica/status", edge.NewDocumentReceiver(cfg.ReplicaFile, "status"))
	mux.Handle("/replica/weights", edge.NewDocumentReceiver(cfg.WeightsFile, "weights"))
	stack := middleware.NewStack(cfg.CORSAllowedOrigins)
	stack.Route(mux, "/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error {
		slog.Info("Receiver listening", "addr", server.Addr)
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
		slog.Error("Edge controller exited", "error", err)
		os.Exit(1)
	}
	slog.Info("Edge controller stopped")
}
