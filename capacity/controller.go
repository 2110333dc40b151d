// ABOUTME: Capacity controller: tier ladder, proactive/reactive scaling, failover
// ABOUTME: Per-backend lifecycle state machine driven by a periodic tick

package capacity

import (
	"context"
	"log/slog"
	"time"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/metrics"
	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/power"
)

// SampleSource supplies live backend telemetry.
type SampleSource interface {
	ServerSamples(ctx context.Context) (map[string]models.LiveSample, error)
}

// ForecastSource supplies the hourly traffic forecast.
type ForecastSource interface {
	Hourly(ctx context.Context, now time.Time) (models.Forecast, error)
}

// failStreakLimit is the number of consecutive probe failures that flip a
// backend to unhealthy; recoverStreakLimit is the successes needed to leave
// the blacklist after a hard reset.
const (
	failStreakLimit    = 3
	recoverStreakLimit = 2
)

type powerResult struct {
	address string
	action  power.Action
	err     error
}

type probeResult struct {
	address string
	err     error
}

// scaleCause records why a power-on was issued, for alerting when the
// actuation completes.
type scaleCause int

const (
	causeProactive scaleCause = iota
	causeReactive
	causeFailover
)

type backendRuntime struct {
	backend models.Backend
	state   models.PowerState
	healthy bool

	poweredOnAt    time.Time
	drainStartedAt time.Time

	failStreak       int
	recoverStreak    int
	awaitingRecovery bool

	powerOnCause scaleCause
	reactiveCPU  float64
	reactiveMem  float64
	replacedName string
}

// Controller owns BackendState for every backend and runs the capacity loop.
type Controller struct {
	topo      *config.Topology
	samples   SampleSource
	forecasts ForecastSource
	actuator  power.Actuator
	prober    Prober
	journal   *alerts.Journal
	blacklist *Blacklist
	status    *StatusPublisher
	history   *UsageHistory

	tick          time.Duration
	stabilization time.Duration
	drainPeriod   time.Duration
	callTimeout   time.Duration
	now           func() time.Time

	runtimes     map[string]*backendRuntime // keyed by address
	pending      map[string]bool            // actuation in flight per address
	lastForecast float64

	powerResults chan powerResult
	probeResults chan probeResult
}

func NewController(cfg *config.Config, topo *config.Topology, samples SampleSource, forecasts ForecastSource,
	actuator power.Actuator, prober Prober, journal *alerts.Journal, blacklist *Blacklist, status *StatusPublisher) *Controller {

	c := &Controller{
		topo:          topo,
		samples:       samples,
		forecasts:     forecasts,
		actuator:      actuator,
		prober:        prober,
		journal:       journal,
		blacklist:     blacklist,
		status:        status,
		tick:          cfg.CheckInterval,
		stabilization: cfg.StabilizationPeriod,
		drainPeriod:   cfg.DrainPeriod,
		callTimeout:   cfg.ExternalCallTimeout,
		now:           time.Now,
		runtimes:      map[string]*backendRuntime{},
		pending:       map[string]bool{},
		powerResults:  make(chan powerResult, len(topo.Backends)*2),
		probeResults:  make(chan probeResult, len(topo.Backends)*2),
	}
	c.history = NewUsageHistory(cfg.CheckInterval, cfg.HighLoadWindow, cfg.LowLoadWindow,
		cfg.HighCPUThreshold, cfg.HighMemThreshold, cfg.LowCPUThreshold, cfg.LowMemThreshold)

	for _, b := range topo.Backends {
		c.runtimes[b.Address] = &backendRuntime{
			backend: b,
			state:   models.PowerOff,
			healthy: !blacklist.Contains(b.ID),
		}
	}
	return c
}

// Bootstrap derives the initial ON set from live telemetry so a controller
// restart does not power-cycle a healthy pool.
func (c *Controller) Bootstrap(ctx context.Context) {
	samples, err := c.fetchSamples(ctx)
	if err != nil {
		slog.Warn("Bootstrap telemetry failed; assuming all backends off", "error", err)
		return
	}
	for addr, s := range samples {
		if rt, ok := c.runtimes[addr]; ok && s.Fresh {
			rt.state = models.PowerOn
			slog.Info("Bootstrap: backend is on", "backend", rt.backend.Name, "address", addr)
		}
	}
	c.publish(ctx)
}

// Run drives the capacity loop until the context is cancelled.
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

// Tick performs one pass of the capacity loop. Exported so tests can drive
// the state machine with a fake clock.
func (c *Controller) Tick(ctx context.Context) {
	now := c.now()
	dirty := false

	dirty = c.integratePowerResults() || dirty
	failed := c.integrateProbeResults()

	samples, err := c.fetchSamples(ctx)
	if err != nil {
		slog.Warn("Telemetry collection failed; skipping tick", "error", err)
		c.journal.MetricsConnectionFailed("metrics DB", err.Error())
		c.status.Heartbeat(ctx, now)
		return
	}

	dirty = c.advanceStarting(now, samples) || dirty
	dirty = c.advanceDraining(ctx, now) || dirty
	c.recordLoad(now, samples)

	if len(failed) > 0 {
		c.handleFailures(ctx, failed)
		dirty = true
	}

	target := c.targetTier(ctx, now)
	if target > 0 {
		dirty = c.converge(ctx, now, target) || dirty
	}

	if dirty {
		c.publish(ctx)
	} else {
		c.status.Heartbeat(ctx, now)
	}

	c.launchProbes(ctx)
}

// fetchSamples queries telemetry with bounded retry.
func (c *Controller) fetchSamples(ctx context.Context) (map[string]models.LiveSample, error) {
	var samples map[string]models.LiveSample
	err := withRetry(ctx, 3, func() error {
		cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		var e error
		samples, e = c.samples.ServerSamples(cctx)
		return e
	})
	return samples, err
}

// integratePowerResults folds completed actuations into backend state.
func (c *Controller) integratePowerResults() bool {
	dirty := false
	for {
		select {
		case r := <-c.powerResults:
			delete(c.pending, r.address)
			rt := c.runtimes[r.address]
			if rt == nil {
				continue
			}
			dirty = true
			outcome := "success"
			if r.err != nil {
				outcome = "failure"
			}
			metrics.PowerActions.WithLabelValues(string(r.action), outcome).Inc()
			switch {
			case r.err != nil:
				slog.Warn("Power actuation failed", "backend", rt.backend.Name, "action", r.action, "error", r.err)
				if r.action == power.On && rt.state == models.PowerStarting {
					rt.state = models.PowerOff
					rt.poweredOnAt = time.Time{}
				}
				// A failed power-off stays STOPPING and retries next tick.
			case r.action == power.On:
				slog.Info("Backend powered on, stabilising", "backend", rt.backend.Name)
				c.alertScaleUp(rt)
			case r.action == power.Off:
				rt.state = models.PowerOff
				rt.drainStartedAt = time.Time{}
				slog.Info("Backend powered off", "backend", rt.backend.Name)
			case r.action == power.Restart:
				slog.Info("Backend hard reset completed", "backend", rt.backend.Name)
			}
		default:
			return dirty
		}
	}
}

// integrateProbeResults updates failure streaks and returns backends that
// just crossed the failure limit.
func (c *Controller) integrateProbeResults() []*backendRuntime {
	var failed []*backendRuntime
	for {
		select {
		case r := <-c.probeResults:
			rt := c.runtimes[r.address]
			if rt == nil {
				continue
			}
			if r.err != nil {
				rt.failStreak++
				rt.recoverStreak = 0
				slog.Debug("Probe failed", "backend", rt.backend.Name, "streak", rt.failStreak, "error", r.err)
				if rt.failStreak == failStreakLimit && rt.healthy && rt.state == models.PowerOn {
					failed = append(failed, rt)
				}
				continue
			}

			rt.failStreak = 0
			if rt.awaitingRecovery {
				rt.recoverStreak++
				if rt.recoverStreak >= recoverStreakLimit {
					c.blacklist.Remove(rt.backend.ID)
					rt.awaitingRecovery = false
					rt.healthy = true
					c.journal.ServerRecovered(rt.backend.Name, rt.backend.Address)
				}
			}
		default:
			return failed
		}
	}
}

// advanceStarting promotes STARTING backends that have stabilised and
// produced a fresh sample.
func (c *Controller) advanceStarting(now time.Time, samples map[string]models.LiveSample) bool {
	dirty := false
	for _, rt := range c.runtimes {
		if rt.state != models.PowerStarting || rt.poweredOnAt.IsZero() {
			continue
		}
		if now.Sub(rt.poweredOnAt) < c.stabilization {
			continue
		}
		if s, ok := samples[rt.backend.Address]; ok && s.Fresh {
			rt.state = models.PowerOn
			dirty = true
			slog.Info("Backend is on", "backend", rt.backend.Name)
		}
	}
	return dirty
}

// advanceDraining moves DRAINING backends whose drain budget elapsed into
// STOPPING and issues the power-off.
func (c *Controller) advanceDraining(ctx context.Context, now time.Time) bool {
	dirty := false
	for _, rt := range c.runtimes {
		if rt.state != models.PowerDraining {
			continue
		}
		if now.Sub(rt.drainStartedAt) < c.drainPeriod {
			continue
		}
		rt.state = models.PowerStopping
		dirty = true
		c.journal.DrainingComplete(rt.backend.Name, rt.backend.Address)
		c.issuePower(ctx, rt, power.Off)
		c.journal.GracefulShutdown(rt.backend.Name, rt.backend.Address)
	}
	return dirty
}

// recordLoad appends the pool-wide average of fresh, serving backends to
// the reactive history. Stale samples never feed reactive decisions.
func (c *Controller) recordLoad(now time.Time, samples map[string]models.LiveSample) {
	var cpuSum, memSum float64
	var n int
	for _, rt := range c.runtimes {
		if rt.state != models.PowerOn || !rt.healthy {
			continue
		}
		s, ok := samples[rt.backend.Address]
		if !ok || !s.Fresh {
			continue
		}
		cpuSum += s.CPUPct
		memSum += s.MemoryPct
		n++
	}
	if n == 0 {
		return
	}
	c.history.Record(now, cpuSum/float64(n), memSum/float64(n))
}

// currentTier is the tier of the highest serving backend.
func (c *Controller) currentTier() models.Tier {
	var tier models.Tier
	for _, rt := range c.runtimes {
		if (rt.state == models.PowerOn || rt.state == models.PowerStarting) && rt.backend.Tier > tier {
			tier = rt.backend.Tier
		}
	}
	return tier
}

// targetTier combines the proactive forecast tier with the reactive
// signals. Reactive can only elevate above proactive; idle can only
// depress; the result is clamped to the declared ladder.
func (c *Controller) targetTier(ctx context.Context, now time.Time) models.Tier {
	fctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	forecast, err := c.forecasts.Hourly(fctx, now)
	cancel()
	if err != nil {
		slog.Warn("No forecast available; skipping proactive decision", "error", err)
		return 0
	}

	c.lastForecast = forecast.Value
	proactive := c.topo.TierFor(forecast.Value)
	current := c.currentTier()
	target := proactive

	if overloaded, avgCPU, avgMem := c.history.Overloaded(); overloaded && current < c.topo.MaxTier() {
		if current+1 > target {
			target = current + 1
		}
		if avgCPU >= c.history.highCPU {
			c.journal.HighCPU(avgCPU, c.history.highCPU, c.servingCount())
		}
		if avgMem >= c.history.highMem {
			c.journal.HighMemory(avgMem, c.history.highMem, c.servingCount())
		}
	}
	if target < models.TierSmall {
		target = models.TierSmall
	}

	if idle, avgCPU, avgMem := c.history.Idle(); idle && current > models.TierSmall {
		c.journal.LowUtilization(avgCPU, avgMem)
		if current-1 < target {
			target = current - 1
		}
	}
	if target > c.topo.MaxTier() {
		target = c.topo.MaxTier()
	}
	if target < models.TierSmall {
		target = models.TierSmall
	}
	return target
}

func (c *Controller) servingCount() int {
	n := 0
	for _, rt := range c.runtimes {
		if rt.state == models.PowerOn && rt.healthy {
			n++
		}
	}
	return n
}

// converge schedules the minimal transitions toward the target tier's
// backend: power the target up first, and only when it is ON move the
// out-of-tier backends to DRAINING.
func (c *Controller) converge(ctx context.Context, now time.Time, target models.Tier) bool {
	desired := c.desiredBackend(target)
	if desired == nil {
		return false
	}
	dirty := false

	rt := c.runtimes[desired.Address]
	switch rt.state {
	case models.PowerOff:
		if !c.pending[desired.Address] {
			rt.state = models.PowerStarting
			rt.poweredOnAt = now
			rt.powerOnCause = causeProactive
			if overloaded, avgCPU, avgMem := c.history.Overloaded(); overloaded && target > c.currentTier() {
				rt.powerOnCause = causeReactive
				rt.reactiveCPU = avgCPU
				rt.reactiveMem = avgMem
			}
			c.issuePower(ctx, rt, power.On)
			c.history.Reset()
			dirty = true
		}
		return dirty
	case models.PowerStarting, models.PowerDraining, models.PowerStopping:
		// Wait for the incoming backend; out-of-tier backends keep serving.
		return dirty
	}

	// Desired backend is ON: drain everything else that still serves.
	for _, other := range c.runtimes {
		if other.backend.Address == desired.Address || other.state != models.PowerOn {
			continue
		}
		if c.servingCount() <= 1 {
			slog.Warn("Skipping drain of last serving backend", "backend", other.backend.Name)
			continue
		}
		other.state = models.PowerDraining
		other.drainStartedAt = now
		c.journal.DrainingStarted(other.backend.Name, other.backend.Address)
		c.journal.ProactiveScaleDown(other.backend.Name, other.backend.Address, c.lastForecast)
		c.history.Reset()
		dirty = true
	}
	return dirty
}

// desiredBackend resolves the backend that should serve the target tier,
// skipping blacklisted machines by walking up then down the ladder.
func (c *Controller) desiredBackend(target models.Tier) *models.Backend {
	if b, ok := c.topo.BackendByTier(target); ok && !c.blacklist.Contains(b.ID) {
		return &b
	}
	for t := target + 1; t <= c.topo.MaxTier(); t++ {
		if b, ok := c.topo.BackendByTier(t); ok && !c.blacklist.Contains(b.ID) {
			return &b
		}
	}
	for t := target - 1; t >= models.TierSmall; t-- {
		if b, ok := c.topo.BackendByTier(t); ok && !c.blacklist.Contains(b.ID) {
			return &b
		}
	}
	c.journal.AllBackendsBlacklisted()
	return nil
}

func (c *Controller) alertScaleUp(rt *backendRuntime) {
	switch rt.powerOnCause {
	case causeReactive:
		c.journal.ReactiveScaleUp(rt.backend.Name, rt.backend.Address, rt.reactiveCPU, rt.reactiveMem)
	case causeFailover:
		c.journal.FailoverComplete(rt.replacedName, rt.backend.Name, rt.backend.Address)
	default:
		c.journal.ProactiveScaleUp(rt.backend.Name, rt.backend.Address, c.lastForecast)
	}
}

// handleFailures isolates probed-out backends and runs the replacement flow.
func (c *Controller) handleFailures(ctx context.Context, failed []*backendRuntime) {
	for _, rt := range failed {
		c.journal.HealthCheckFailed(rt.backend.Name, rt.backend.Address, "synthetic HTTP check")
		rt.healthy = false

		if !c.isUniqueTarget(rt) {
			slog.Info("Redundant backend marked unhealthy", "backend", rt.backend.Name)
			continue
		}

		replacement := c.findReplacement(rt.backend)
		if replacement == nil {
			c.journal.NoReplacementAvailable(rt.backend.Name, rt.backend.Address)
		} else {
			repl := c.runtimes[replacement.Address]
			repl.state = models.PowerStarting
			repl.poweredOnAt = c.now()
			repl.powerOnCause = causeFailover
			repl.replacedName = rt.backend.Name
			c.journal.FailoverInitiated(rt.backend.Name, rt.backend.Address, replacement.Name)
			c.issuePower(ctx, repl, power.On)
		}

		c.blacklist.Add(rt.backend.ID)
		c.journal.ServerBlacklisted(rt.backend.Name, rt.backend.Address)
		rt.awaitingRecovery = true
		rt.recoverStreak = 0
		c.issuePower(ctx, rt, power.Restart)

		c.history.Reset()

		if c.blacklist.Len() >= len(c.topo.Backends) {
			c.journal.AllBackendsBlacklisted()
		}
	}
}

// isUniqueTarget reports whether rt is the only healthy serving backend.
func (c *Controller) isUniqueTarget(rt *backendRuntime) bool {
	for _, other := range c.runtimes {
		if other.backend.Address == rt.backend.Address {
			continue
		}
		if other.state == models.PowerOn && other.healthy {
			return false
		}
	}
	return true
}

// findReplacement picks an OFF, non-blacklisted backend of the same tier or
// a higher one, lowest tier first; failing that, the largest available below.
func (c *Controller) findReplacement(failed models.Backend) *models.Backend {
	for t := failed.Tier; t <= c.topo.MaxTier(); t++ {
		if b, ok := c.topo.BackendByTier(t); ok && b.ID != failed.ID {
			if c.runtimes[b.Address].state == models.PowerOff && !c.blacklist.Contains(b.ID) {
				return &b
			}
		}
	}
	for t := failed.Tier - 1; t >= models.TierSmall; t-- {
		if b, ok := c.topo.BackendByTier(t); ok && b.ID != failed.ID {
			if c.runtimes[b.Address].state == models.PowerOff && !c.blacklist.Contains(b.ID) {
				return &b
			}
		}
	}
	return nil
}

// issuePower starts an asynchronous power actuation. The result arrives on
// the powerResults channel and is integrated at the next tick.
func (c *Controller) issuePower(ctx context.Context, rt *backendRuntime, action power.Action) {
	addr := rt.backend.Address
	if c.pending[addr] {
		return
	}
	c.pending[addr] = true
	name := rt.backend.Name

	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		err := withRetry(actx, 3, func() error {
			return c.actuator.Apply(actx, name, action)
		})
		c.powerResults <- powerResult{address: addr, action: action, err: err}
	}()
}

// launchProbes fires synthetic checks for serving and recovering backends;
// results are integrated at the next tick.
func (c *Controller) launchProbes(ctx context.Context) {
	for _, rt := range c.runtimes {
		probeIt := rt.state == models.PowerOn || (rt.awaitingRecovery && !c.pending[rt.backend.Address])
		if !probeIt || rt.state == models.PowerDraining {
			continue
		}
		addr := rt.backend.Address
		go func() {
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
			defer cancel()
			err := c.prober.Probe(pctx, addr)
			select {
			case c.probeResults <- probeResult{address: addr, err: err}:
			default:
			}
		}()
	}
}

// publish writes and ships the status document.
func (c *Controller) publish(ctx context.Context) {
	if err := c.status.Publish(ctx, c.StatusSnapshot()); err != nil {
		slog.Error("Could not write status document", "error", err)
	}
}

// StatusSnapshot builds the current document without publishing, for tests
// and the HTTP API.
func (c *Controller) StatusSnapshot() models.StatusDocument {
	doc := models.StatusDocument{}
	for _, rt := range c.runtimes {
		active := rt.state == models.PowerStarting || rt.state == models.PowerOn || rt.state == models.PowerDraining
		doc[rt.backend.Address] = models.StatusEntry{
			Name:     rt.backend.Name,
			IP:       rt.backend.Address,
			Active:   active,
			Draining: rt.state == models.PowerDraining,
			Healthy:  rt.healthy && !c.blacklist.Contains(rt.backend.ID),
		}
	}
	return doc
}

// withRetry runs fn up to attempts times with exponential backoff.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	backoff := 500 * time.Millisecond
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
