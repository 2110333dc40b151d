package capacity

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HuaZheng03/dslb/alerts"
	"github.com/HuaZheng03/dslb/config"
	"github.com/HuaZheng03/dslb/models"
	"github.com/HuaZheng03/dslb/power"
)

// fakeSamples serves a mutable sample map.
type fakeSamples struct {
	mu      sync.Mutex
	samples map[string]models.LiveSample
}

func (f *fakeSamples) ServerSamples(ctx context.Context) (map[string]models.LiveSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]models.LiveSample{}
	for k, v := range f.samples {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSamples) set(addr string, cpu, mem float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[addr] = models.LiveSample{CPUPct: cpu, MemoryPct: mem, Fresh: true, Timestamp: time.Now()}
}

func (f *fakeSamples) remove(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.samples, addr)
}

// fakeForecasts returns a fixed forecast value.
type fakeForecasts struct {
	mu    sync.Mutex
	value float64
}

func (f *fakeForecasts) Hourly(ctx context.Context, now time.Time) (models.Forecast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Forecast{Value: f.value, ValidUntil: now.Add(time.Hour)}, nil
}

func (f *fakeForecasts) set(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

// fakeActuator records actions and always succeeds.
type fakeActuator struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeActuator) Apply(ctx context.Context, vmName string, action power.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, vmName+":"+string(action))
	return nil
}

func (f *fakeActuator) has(entry string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actions {
		if a == entry {
			return true
		}
	}
	return false
}

// fakeProber always succeeds; failures are injected directly on the
// controller's result channel in tests.
type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context, addr string) error { return nil }

func testTopology() *config.Topology {
	return &config.Topology{
		Backends: []models.Backend{
			{ID: "vm-small", Name: "vm-small", Address: "10.0.0.1", Tier: 1, CapacityCores: 1},
			{ID: "vm-medium", Name: "vm-medium", Address: "10.0.0.2", Tier: 2, CapacityCores: 2},
			{ID: "vm-large", Name: "vm-large", Address: "10.0.0.3", Tier: 3, CapacityCores: 4},
		},
		Tiers: []config.TierRange{
			{Tier: 1, MinRequests: 0, MaxRequests: 140000},
			{Tier: 2, MinRequests: 140000, MaxRequests: 420000},
			{Tier: 3, MinRequests: 420000, MaxRequests: 0},
		},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		CheckInterval:       10 * time.Second,
		StabilizationPeriod: 80 * time.Second,
		DrainPeriod:         30 * time.Second,
		HeartbeatInterval:   time.Minute,
		ExternalCallTimeout: time.Second,
		HighLoadWindow:      5 * time.Minute,
		LowLoadWindow:       30 * time.Minute,
		HighCPUThreshold:    90,
		HighMemThreshold:    90,
		LowCPUThreshold:     3,
		LowMemThreshold:     20,
	}
}

type harness struct {
	c         *Controller
	samples   *fakeSamples
	forecasts *fakeForecasts
	actuator  *fakeActuator
	clock     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := testConfig(t)
	topo := testTopology()
	journal := alerts.NewJournal(filepath.Join(dir, "alerts.json"))
	blacklist := NewBlacklist(filepath.Join(dir, "blacklist.json"))
	status := NewStatusPublisher(filepath.Join(dir, "status.json"), nil, journal, cfg.HeartbeatInterval)

	h := &harness{
		samples:   &fakeSamples{samples: map[string]models.LiveSample{}},
		forecasts: &fakeForecasts{value: 50000},
		actuator:  &fakeActuator{},
		clock:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	h.c = NewController(cfg, topo, h.samples, h.forecasts, h.actuator, fakeProber{}, journal, blacklist, status)
	h.c.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

// settle waits until every in-flight power actuation has published its
// result on the channel; the next Tick integrates them.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.c.powerResults) >= len(h.c.pending) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("power actuation did not settle")
}

func (h *harness) state(addr string) models.PowerState {
	return h.c.runtimes[addr].state
}

func TestColdStart_PowersOnForecastTier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Forecast 50,000 requests/hour maps to tier 1.
	h.c.Tick(ctx)
	if h.state("10.0.0.1") != models.PowerStarting {
		t.Fatalf("Expected tier-1 backend STARTING, got %s", h.state("10.0.0.1"))
	}
	if h.state("10.0.0.2") != models.PowerOff || h.state("10.0.0.3") != models.PowerOff {
		t.Error("Expected higher tiers to remain OFF")
	}
	h.settle(t)

	if !h.actuator.has("vm-small:on") {
		t.Error("Expected a power-on actuation for vm-small")
	}

	// Stabilisation plus a fresh sample promotes the backend to ON.
	h.advance(81 * time.Second)
	h.samples.set("10.0.0.1", 10, 10)
	h.c.Tick(ctx)
	if h.state("10.0.0.1") != models.PowerOn {
		t.Fatalf("Expected tier-1 backend ON after stabilisation, got %s", h.state("10.0.0.1"))
	}
}

func TestColdStart_NoPromotionBeforeStabilisation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.c.Tick(ctx)
	h.settle(t)

	h.advance(40 * time.Second)
	h.samples.set("10.0.0.1", 10, 10)
	h.c.Tick(ctx)
	if h.state("10.0.0.1") != models.PowerStarting {
		t.Errorf("Expected STARTING before 80s stabilisation, got %s", h.state("10.0.0.1"))
	}
}

func TestProactiveUpgrade_IncomingOnBeforeOutgoingDrains(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Tier 1 serving steady state.
	h.c.runtimes["10.0.0.1"].state = models.PowerOn
	h.samples.set("10.0.0.1", 30, 30)

	// Forecast jumps into the tier-2 interval.
	h.forecasts.set(300000)
	h.c.Tick(ctx)
	if h.state("10.0.0.2") != models.PowerStarting {
		t.Fatalf("Expected tier-2 STARTING, got %s", h.state("10.0.0.2"))
	}
	if h.state("10.0.0.1") != models.PowerOn {
		t.Fatal("Outgoing backend must keep serving while the incoming one starts")
	}
	h.settle(t)

	// While tier 2 stabilises, tier 1 must not drain.
	h.advance(30 * time.Second)
	h.samples.set("10.0.0.2", 10, 10)
	h.c.Tick(ctx)
	if h.state("10.0.0.1") != models.PowerOn {
		t.Fatal("Outgoing backend drained before the incoming backend reached ON")
	}

	// After stabilisation tier 2 is ON; only then does tier 1 drain.
	h.advance(60 * time.Second)
	h.c.Tick(ctx)
	if h.state("10.0.0.2") != models.PowerOn {
		t.Fatalf("Expected tier-2 ON, got %s", h.state("10.0.0.2"))
	}
	if h.state("10.0.0.1") != models.PowerDraining {
		t.Fatalf("Expected tier-1 DRAINING after tier-2 reached ON, got %s", h.state("10.0.0.1"))
	}

	// The published document shows draining=true while still active.
	doc := h.c.StatusSnapshot()
	entry := doc["10.0.0.1"]
	if !entry.Active || !entry.Draining {
		t.Errorf("Expected draining backend to stay active in the document, got %+v", entry)
	}

	// Drain budget elapses: STOPPING, then OFF once power-off completes.
	h.advance(31 * time.Second)
	h.c.Tick(ctx)
	if h.state("10.0.0.1") != models.PowerStopping {
		t.Fatalf("Expected STOPPING after drain period, got %s", h.state("10.0.0.1"))
	}
	h.settle(t)
	h.c.Tick(ctx)
	if h.state("10.0.0.1") != models.PowerOff {
		t.Fatalf("Expected OFF after power-off completion, got %s", h.state("10.0.0.1"))
	}
	if !h.actuator.has("vm-small:off") {
		t.Error("Expected a power-off actuation for vm-small")
	}
}

func TestDrainingImpliesActive(t *testing.T) {
	h := newHarness(t)

	for _, st := range []models.PowerState{models.PowerOff, models.PowerStarting, models.PowerOn, models.PowerDraining, models.PowerStopping} {
		h.c.runtimes["10.0.0.1"].state = st
		doc := h.c.StatusSnapshot()
		entry := doc["10.0.0.1"]
		if entry.Draining && !entry.Active {
			t.Errorf("State %s violates draining => active", st)
		}
	}
}

func TestReactiveOverload_ScalesUpOneTier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.c.runtimes["10.0.0.1"].state = models.PowerOn
	h.samples.set("10.0.0.1", 95, 50)

	// Five minutes of breaching samples at the 10s tick.
	for i := 0; i < 30; i++ {
		h.c.history.Record(h.clock, 95, 50)
		h.advance(10 * time.Second)
	}

	h.c.Tick(ctx)
	if h.state("10.0.0.2") != models.PowerStarting {
		t.Fatalf("Expected one-tier reactive scale-up, got tier2=%s", h.state("10.0.0.2"))
	}
	if h.state("10.0.0.3") != models.PowerOff {
		t.Error("Reactive scale-up must be a single tier")
	}
	h.settle(t)

	// History was reset: an immediate next tick must not scale further.
	h.c.Tick(ctx)
	if h.state("10.0.0.3") != models.PowerOff {
		t.Error("Expected no further scale-up right after the first")
	}
}

func TestReactiveIdle_DepressesBelowCurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Tier 2 serving, forecast also in tier 2.
	h.c.runtimes["10.0.0.2"].state = models.PowerOn
	h.samples.set("10.0.0.2", 1, 10)
	h.forecasts.set(300000)

	// A full 30-minute idle window.
	for i := 0; i < 180; i++ {
		h.c.history.Record(h.clock, 1, 10)
		h.advance(10 * time.Second)
	}

	h.c.Tick(ctx)
	if h.state("10.0.0.1") != models.PowerStarting {
		t.Fatalf("Expected idle signal to bring tier 1 up, got %s", h.state("10.0.0.1"))
	}
}

func TestHealthFailure_ReplacementAndBlacklist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.c.runtimes["10.0.0.2"].state = models.PowerOn
	h.samples.set("10.0.0.2", 30, 30)
	h.forecasts.set(300000)

	// Three consecutive probe failures arrive on the result channel.
	for i := 0; i < 3; i++ {
		h.c.probeResults <- probeResult{address: "10.0.0.2", err: context.DeadlineExceeded}
	}
	h.c.Tick(ctx)

	if !h.c.blacklist.Contains("vm-medium") {
		t.Fatal("Expected failed backend to be blacklisted")
	}
	if h.c.runtimes["10.0.0.2"].healthy {
		t.Error("Expected failed backend marked unhealthy")
	}
	// Replacement comes from the next tier up's OFF pool.
	if h.state("10.0.0.3") != models.PowerStarting {
		t.Fatalf("Expected tier-3 replacement STARTING, got %s", h.state("10.0.0.3"))
	}
	h.settle(t)
	if !h.actuator.has("vm-large:on") {
		t.Error("Expected replacement power-on")
	}
	if !h.actuator.has("vm-medium:restart") {
		t.Error("Expected hard reset of the failed backend")
	}

	doc := h.c.StatusSnapshot()
	if doc["10.0.0.2"].Healthy {
		t.Error("Status document must mark the blacklisted backend unhealthy")
	}
}

func TestHealthRecovery_LeavesBlacklistAfterTwoSuccesses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rt := h.c.runtimes["10.0.0.2"]
	rt.state = models.PowerOn
	rt.healthy = false
	rt.awaitingRecovery = true
	h.c.blacklist.Add("vm-medium")
	h.samples.set("10.0.0.2", 30, 30)

	h.c.probeResults <- probeResult{address: "10.0.0.2"}
	h.c.Tick(ctx)
	if !h.c.blacklist.Contains("vm-medium") {
		t.Fatal("One success must not clear the blacklist")
	}

	h.c.probeResults <- probeResult{address: "10.0.0.2"}
	h.c.Tick(ctx)
	if h.c.blacklist.Contains("vm-medium") {
		t.Fatal("Two successes after reset must clear the blacklist")
	}
	if !rt.healthy {
		t.Error("Recovered backend should be healthy again")
	}
}

func TestRedundantFailure_NoReplacement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.c.runtimes["10.0.0.1"].state = models.PowerOn
	h.c.runtimes["10.0.0.2"].state = models.PowerOn
	h.samples.set("10.0.0.1", 30, 30)
	h.samples.set("10.0.0.2", 30, 30)

	for i := 0; i < 3; i++ {
		h.c.probeResults <- probeResult{address: "10.0.0.1", err: context.DeadlineExceeded}
	}
	h.c.Tick(ctx)

	if h.c.runtimes["10.0.0.1"].healthy {
		t.Error("Expected redundant backend marked unhealthy")
	}
	if h.state("10.0.0.3") != models.PowerOff {
		t.Error("Redundant failure must not trigger replacement")
	}
	if h.c.blacklist.Contains("vm-small") {
		t.Error("Redundant failure must not blacklist")
	}
}

func TestTierBoundary_LowerEndpointOwnsTier(t *testing.T) {
	topo := testTopology()
	tests := []struct {
		forecast float64
		want     models.Tier
	}{
		{0, 1},
		{139999, 1},
		{140000, 2},
		{419999, 2},
		{420000, 3},
		{5000000, 3},
	}
	for _, tt := range tests {
		if got := topo.TierFor(tt.forecast); got != tt.want {
			t.Errorf("TierFor(%v) = %d, want %d", tt.forecast, got, tt.want)
		}
	}
}

func TestStaleSample_ExcludedFromReactiveHistory(t *testing.T) {
	h := newHarness(t)

	h.c.runtimes["10.0.0.1"].state = models.PowerOn
	h.samples.mu.Lock()
	h.samples.samples["10.0.0.1"] = models.LiveSample{CPUPct: 99, MemoryPct: 99, Fresh: false}
	h.samples.mu.Unlock()

	samples, _ := h.samples.ServerSamples(context.Background())
	h.c.recordLoad(h.clock, samples)

	if overloaded, _, _ := h.c.history.Overloaded(); overloaded {
		t.Error("Stale samples must not feed reactive thresholds")
	}
}
