// ABOUTME: Edge control loop: status replica, DWRS selection, NAT commit
// ABOUTME: Retains the last-known target whenever the replica or pool degrades

package edge

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/dwrs"
	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/nat"
	"github.com/HuaZheng03/dslb/store"
)

// SampleSource supplies live backend telemetry.
type SampleSource interface {
	ServerSamples(ctx context.Context) (map[string]models.LiveSample, error)
}

// Controller runs the edge loop. It is the only writer of the NAT rule and
// only ever reads the status replica.
type Controller struct {
	topo        *config.Topology
	samples     SampleSource
	nat         *nat.Controller
	journal     *alerts.Journal
	replicaPath string

	tick        time.Duration
	stalenessCap time.Duration
	callTimeout time.Duration

	rng *rand.Rand
	now func() time.Time

	lastDoc      models.StatusDocument
	lastDocFresh time.Time
	replicaDown  bool
}

func NewController(cfg *config.Config, topo *config.Topology, samples SampleSource, natc *nat.Controller, journal *alerts.Journal) *Controller {
	return &Controller{
		topo:         topo,
		samples:      samples,
		nat:          natc,
		journal:      journal,
		replicaPath:  cfg.ReplicaFile,
		tick:         cfg.CheckInterval,
		stalenessCap: cfg.StalenessCap,
		callTimeout:  cfg.ExternalCallTimeout,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		now:          time.Now,
	}
}

// Run drives the edge loop until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick performs one selection pass.
func (c *Controller) Tick(ctx context.Context) {
	now := c.now()

	doc, ok := c.loadReplica(now)
	if !ok {
		// No usable replica: keep the current NAT target untouched.
		return
	}

	sctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	samples, err := c.samples.ServerSamples(sctx)
	cancel()
	if err != nil {
		slog.Warn("Telemetry collection failed; keeping current target", "error", err)
		return
	}

	candidates := c.candidates(doc, samples)
	ranked := dwrs.Rank(candidates, samples)
	if len(ranked) == 0 {
		slog.Warn("No selectable backends; retaining previous NAT target", "target", c.nat.CurrentTarget())
		c.journal.NoCandidates()
		return
	}

	x := c.rng.Intn(dwrs.TotalWeight(ranked)) + 1
	selected, err := dwrs.Select(ranked, x)
	if err != nil {
		c.journal.NoCandidates()
		return
	}

	if err := c.nat.Commit(selected.Backend.Address); err != nil {
		slog.Error("NAT commit failed; previous rule preserved", "target", selected.Backend.Address, "error", err)
		c.journal.NATCommitFailed(selected.Backend.Address, err.Error())
		return
	}
}

// loadReplica re-reads the status replica, falling back to the last good
// copy while it remains inside the staleness cap.
func (c *Controller) loadReplica(now time.Time) (models.StatusDocument, bool) {
	var doc models.StatusDocument
	err := store.ReadJSON(c.replicaPath, &doc)
	if err == nil {
		if info, statErr := os.Stat(c.replicaPath); statErr == nil {
			c.lastDocFresh = info.ModTime()
		} else {
			c.lastDocFresh = now
		}
		c.lastDoc = doc
		c.replicaDown = false
		return doc, true
	}

	slog.Warn("Could not read status replica", "path", c.replicaPath, "error", err)
	if !c.replicaDown {
		c.replicaDown = true
		c.journal.Add(alerts.Warning, alerts.SystemTelemetry, "Status Replica Unreadable",
			"Edge controller is running on its last-known server status", nil)
	}
	if c.lastDoc == nil {
		return nil, false
	}
	if now.Sub(c.lastDocFresh) > c.stalenessCap {
		slog.Warn("Last-known status replica exceeds staleness cap; suspending selection",
			"age", now.Sub(c.lastDocFresh))
		return nil, false
	}
	return c.lastDoc, true
}

// candidates filters the roster to backends the replica marks selectable.
func (c *Controller) candidates(doc models.StatusDocument, samples map[string]models.LiveSample) []models.Backend {
	var out []models.Backend
	for _, b := range c.topo.Backends {
		entry, ok := doc[b.Address]
		if !ok || !entry.Active || entry.Draining || !entry.Healthy {
			continue
		}
		if s, ok := samples[b.Address]; !ok || !s.Fresh {
			continue
		}
		out = append(out, b)
	}
	return out
}
