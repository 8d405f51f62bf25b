package activity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/push"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher serves configurable dock states and counts fetch calls.
type fakeFetcher struct {
	mu     sync.Mutex
	states map[string]bikepoint.DockState
	errs   map[string]error
	delays map[string]time.Duration
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		states: make(map[string]bikepoint.DockState),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) set(id string, counts bikepoint.Counts, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = bikepoint.DockState{Counts: counts, Name: name, FetchedAt: time.Now()}
	delete(f.errs, id)
}

func (f *fakeFetcher) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeFetcher) delay(id string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[id] = d
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) Dock(ctx context.Context, id string) (bikepoint.DockState, error) {
	f.mu.Lock()
	f.calls[id]++
	state, ok := f.states[id]
	err := f.errs[id]
	delay := f.delays[id]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return bikepoint.DockState{}, ctx.Err()
		}
	}
	if err != nil {
		return bikepoint.DockState{}, err
	}
	if !ok {
		return bikepoint.DockState{}, fmt.Errorf("no state configured for %s", id)
	}
	return state, nil
}

// fakePusher records every send and can be told to reject tokens as
// permanently invalid.
type fakePusher struct {
	mu            sync.Mutex
	updates       []push.StateUpdate
	alerts        []push.Alert
	deadTokens    map[string]bool
	deadDevices   map[string]bool
	failTransient map[string]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		deadTokens:    make(map[string]bool),
		deadDevices:   make(map[string]bool),
		failTransient: make(map[string]bool),
	}
}

func (f *fakePusher) SendStateUpdate(ctx context.Context, u push.StateUpdate) push.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if f.deadTokens[u.Token] {
		return push.Result{Status: 410, Reason: "Unregistered"}
	}
	if f.failTransient[u.Token] {
		return push.Result{Status: 500}
	}
	return push.Result{Delivered: true, Status: 200}
}

func (f *fakePusher) SendAlert(ctx context.Context, a push.Alert) push.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	if f.deadDevices[a.DeviceToken] {
		return push.Result{Status: 410, Reason: "Unregistered"}
	}
	return push.Result{Delivered: true, Status: 200}
}

func (f *fakePusher) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakePusher) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fakePusher) allUpdates() []push.StateUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.StateUpdate(nil), f.updates...)
}

func (f *fakePusher) allAlerts() []push.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.Alert(nil), f.alerts...)
}

func (f *fakePusher) lastUpdateFor(token string) (push.StateUpdate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.updates) - 1; i >= 0; i-- {
		if f.updates[i].Token == token {
			return f.updates[i], true
		}
	}
	return push.StateUpdate{}, false
}

// fakeOverrides is an in-memory OverrideSource.
type fakeOverrides struct {
	mu     sync.Mutex
	counts map[string]bikepoint.Counts
}

func newFakeOverrides() *fakeOverrides {
	return &fakeOverrides{counts: make(map[string]bikepoint.Counts)}
}

func (f *fakeOverrides) set(id string, c bikepoint.Counts) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[id] = c
}

func (f *fakeOverrides) clear(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, id)
}

func (f *fakeOverrides) Counters(dockID string) (bikepoint.Counts, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counts[dockID]
	return c, ok
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type testEngine struct {
	registry  *Registry
	fetcher   *fakeFetcher
	pusher    *fakePusher
	overrides *fakeOverrides
}

func newTestEngine(t *testing.T, interval time.Duration) *testEngine {
	t.Helper()

	fetcher := newFakeFetcher()
	pusher := newFakePusher()
	overrides := newFakeOverrides()

	registry, err := NewRegistry(Config{
		Fetcher:      fetcher,
		Pusher:       pusher,
		Overrides:    overrides,
		PollInterval: interval,
		FetchTimeout: time.Second,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	t.Cleanup(registry.Close)

	return &testEngine{registry: registry, fetcher: fetcher, pusher: pusher, overrides: overrides}
}

// backdate shifts a live subscription's clock into the past so expiry
// paths can be exercised without waiting.
func backdate(t *testing.T, r *Registry, dockID, token string, by time.Duration) {
	t.Helper()
	r.mu.RLock()
	p := r.pollers[dockID]
	r.mu.RUnlock()
	if p == nil {
		t.Fatalf("no poller for %s", dockID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sub := p.subs[token]
	if sub == nil {
		t.Fatalf("no subscription %s on %s", token, dockID)
	}
	sub.StartedAt = sub.StartedAt.Add(-by)
	sub.HardStopAt = sub.HardStopAt.Add(-by)
}

func TestNewRegistry_RequiresCollaborators(t *testing.T) {
	if _, err := NewRegistry(Config{Pusher: newFakePusher()}); err == nil {
		t.Error("expected error without fetcher")
	}
	if _, err := NewRegistry(Config{Fetcher: newFakeFetcher()}); err == nil {
		t.Error("expected error without pusher")
	}
}

func TestRegistry_StartCreatesPollerAndPrimes(t *testing.T) {
	eng := newTestEngine(t, time.Hour) // only the immediate tick should run
	eng.fetcher.set("BikePoints_1", bikepoint.Counts{Bikes: 4, EBikes: 2, Docks: 12}, "Soho Square")

	sub, err := eng.registry.Start(StartParams{
		DockID:      "BikePoints_1",
		PushToken:   "tok-1",
		Environment: push.EnvProduction,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sub.PrimaryMetric != bikepoint.MetricBikes {
		t.Errorf("default primary metric = %s, want bikes", sub.PrimaryMetric)
	}

	waitFor(t, 2*time.Second, "priming push", func() bool {
		return eng.pusher.updateCount() >= 1
	})

	update, ok := eng.pusher.lastUpdateFor("tok-1")
	if !ok {
		t.Fatal("no update sent to the new subscription")
	}
	if update.Event != push.EventUpdate {
		t.Errorf("event = %s, want update", update.Event)
	}
	if want := (bikepoint.Counts{Bikes: 4, EBikes: 2, Docks: 12}); update.State.Counts != want {
		t.Errorf("pushed counts = %+v, want %+v", update.State.Counts, want)
	}

	if docks, sessions := eng.registry.Stats(); docks != 1 || sessions != 1 {
		t.Errorf("stats = (%d, %d), want (1, 1)", docks, sessions)
	}
}

func TestRegistry_StartDefaultsAndClampsExpiry(t *testing.T) {
	eng := newTestEngine(t, time.Hour)
	eng.fetcher.set("BikePoints_1", bikepoint.Counts{Bikes: 1}, "")

	// no declared expiry: default applies
	sub, err := eng.registry.Start(StartParams{DockID: "BikePoints_1", PushToken: "tok-a"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := sub.ExpiresAt().Sub(sub.StartedAt); got != defaultDeclaredExpiry {
		t.Errorf("defaulted expiry = %v, want %v", got, defaultDeclaredExpiry)
	}

	// an absurd declaration is ceilinged, never trusted
	sub, err = eng.registry.Start(StartParams{
		DockID:         "BikePoints_1",
		PushToken:      "tok-b",
		DeclaredExpiry: 100000 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := sub.ExpiresAt().Sub(sub.StartedAt); got != hardSessionCutoff {
		t.Errorf("clamped expiry = %v, want %v", got, hardSessionCutoff)
	}
}

func TestRegistry_StartOverwritesExisting(t *testing.T) {
	eng := newTestEngine(t, time.Hour)
	eng.fetcher.set("BikePoints_1", bikepoint.Counts{Bikes: 1}, "")

	if _, err := eng.registry.Start(StartParams{
		DockID: "BikePoints_1", PushToken: "tok-1", DisplayName: "first",
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := eng.registry.Start(StartParams{
		DockID: "BikePoints_1", PushToken: "tok-1", DisplayName: "second",
	}); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	sub, ok := eng.registry.Get("BikePoints_1", "tok-1")
	if !ok {
		t.Fatal("subscription missing after overwrite")
	}
	if sub.DisplayName != "second" {
		t.Errorf("display name = %q, want the fresh registration", sub.DisplayName)
	}
	if docks, sessions := eng.registry.Stats(); docks != 1 || sessions != 1 {
		t.Errorf("stats = (%d, %d), want a single subscription", docks, sessions)
	}
}

// TestRegistry_EndTearsDownPoller covers the synchronous teardown
// contract: once End returns, no further fetch for that dock may happen
// until a new Start.
func TestRegistry_EndTearsDownPoller(t *testing.T) {
	eng := newTestEngine(t, 20*time.Millisecond)
	eng.fetcher.set("BikePoints_1", bikepoint.Counts{Bikes: 1}, "")

	if _, err := eng.registry.Start(StartParams{DockID: "BikePoints_1", PushToken: "tok-1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, "first fetch", func() bool {
		return eng.fetcher.callCount("BikePoints_1") >= 1
	})

	if !eng.registry.End("BikePoints_1", "tok-1") {
		t.Fatal("End should report the subscription was removed")
	}

	// give any in-flight tick a moment to settle, then take the baseline
	time.Sleep(50 * time.Millisecond)
	baseline := eng.fetcher.callCount("BikePoints_1")
	time.Sleep(100 * time.Millisecond)
	if got := eng.fetcher.callCount("BikePoints_1"); got != baseline {
		t.Errorf("fetches continued after End: %d -> %d", baseline, got)
	}

	if docks, sessions := eng.registry.Stats(); docks != 0 || sessions != 0 {
		t.Errorf("stats = (%d, %d), want empty registry", docks, sessions)
	}
}

func TestRegistry_EndIsIdempotent(t *testing.T) {
	eng := newTestEngine(t, time.Hour)
	eng.fetcher.set("BikePoints_1", bikepoint.Counts{Bikes: 1}, "")

	if _, err := eng.registry.Start(StartParams{DockID: "BikePoints_1", PushToken: "tok-1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !eng.registry.End("BikePoints_1", "tok-1") {
		t.Error("first End should report true")
	}
	if eng.registry.End("BikePoints_1", "tok-1") {
		t.Error("second End should be a no-op reporting false")
	}
	if eng.registry.End("BikePoints_99", "tok-1") {
		t.Error("End for an unknown dock should report false")
	}
}

func TestRegistry_Update(t *testing.T) {
	eng := newTestEngine(t, time.Hour)
	eng.fetcher.set("BikePoints_1", bikepoint.Counts{Bikes: 1}, "")

	if _, err := eng.registry.Start(StartParams{
		DockID:        "BikePoints_1",
		PushToken:     "tok-1",
		PrimaryMetric: bikepoint.MetricBikes,
		Thresholds:    map[bikepoint.Metric]int{bikepoint.MetricBikes: 3},
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	metric := bikepoint.MetricDocks
	name := "Home dock"
	updated, err := eng.registry.Update("BikePoints_1", "tok-1", UpdateParams{
		PrimaryMetric: &metric,
		Thresholds:    map[bikepoint.Metric]int{bikepoint.MetricDocks: 2},
		DisplayName:   &name,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.PrimaryMetric != bikepoint.MetricDocks {
		t.Errorf("metric = %s, want docks", updated.PrimaryMetric)
	}
	if updated.Threshold() != 2 {
		t.Errorf("threshold = %d, want 2", updated.Threshold())
	}
	if updated.DisplayName != "Home dock" {
		t.Errorf("display name = %q", updated.DisplayName)
	}

	// identity and timers untouched
	fresh, _ := eng.registry.Get("BikePoints_1", "tok-1")
	if !fresh.StartedAt.Equal(updated.StartedAt) {
		t.Error("Update must not reset the session clock")
	}
}

func TestRegistry_UpdateNotFound(t *testing.T) {
	eng := newTestEngine(t, time.Hour)

	if _, err := eng.registry.Update("BikePoints_1", "tok-1", UpdateParams{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_ListForDevice(t *testing.T) {
	eng := newTestEngine(t, time.Hour)
	eng.fetcher.set("BikePoints_1", bikepoint.Counts{Bikes: 1}, "")
	eng.fetcher.set("BikePoints_2", bikepoint.Counts{Bikes: 1}, "")

	if _, err := eng.registry.Start(StartParams{
		DockID: "BikePoints_1", PushToken: "tok-1", DeviceToken: "device-a",
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond) // distinct start times for ordering
	if _, err := eng.registry.Start(StartParams{
		DockID: "BikePoints_2", PushToken: "tok-2", DeviceToken: "device-a",
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := eng.registry.Start(StartParams{
		DockID: "BikePoints_2", PushToken: "tok-3", DeviceToken: "device-b",
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	subs := eng.registry.ListForDevice("device-a")
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions for device-a, got %d", len(subs))
	}
	if subs[0].DockID != "BikePoints_2" {
		t.Errorf("most recent subscription should sort first, got %s", subs[0].DockID)
	}

	// expired entries are filtered at query time
	backdate(t, eng.registry, "BikePoints_2", "tok-2", 3*time.Hour)
	subs = eng.registry.ListForDevice("device-a")
	if len(subs) != 1 || subs[0].DockID != "BikePoints_1" {
		t.Errorf("expired subscription should be excluded, got %+v", subs)
	}

	if got := eng.registry.ListForDevice("device-unknown"); len(got) != 0 {
		t.Errorf("unknown device should list nothing, got %d", len(got))
	}
}

func TestRegistry_CloseStopsEverything(t *testing.T) {
	eng := newTestEngine(t, 20*time.Millisecond)
	eng.fetcher.set("BikePoints_1", bikepoint.Counts{Bikes: 1}, "")
	eng.fetcher.set("BikePoints_2", bikepoint.Counts{Bikes: 2}, "")

	for i, dock := range []string{"BikePoints_1", "BikePoints_2"} {
		if _, err := eng.registry.Start(StartParams{DockID: dock, PushToken: fmt.Sprintf("tok-%d", i)}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}

	eng.registry.Close()

	baseline1 := eng.fetcher.callCount("BikePoints_1")
	baseline2 := eng.fetcher.callCount("BikePoints_2")
	time.Sleep(100 * time.Millisecond)
	if eng.fetcher.callCount("BikePoints_1") != baseline1 || eng.fetcher.callCount("BikePoints_2") != baseline2 {
		t.Error("fetches continued after Close")
	}

	if _, err := eng.registry.Start(StartParams{DockID: "BikePoints_1", PushToken: "tok-x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}

	// idempotent
	eng.registry.Close()
}

// TestRegistry_ConcurrentStartEnd hammers the structural paths to catch
// lock-ordering and teardown races under the race detector.
func TestRegistry_ConcurrentStartEnd(t *testing.T) {
	eng := newTestEngine(t, 10*time.Millisecond)
	for i := 0; i < 4; i++ {
		eng.fetcher.set(fmt.Sprintf("BikePoints_%d", i), bikepoint.Counts{Bikes: i}, "")
	}

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			dock := fmt.Sprintf("BikePoints_%d", worker%4)
			token := fmt.Sprintf("tok-%d", worker)
			for i := 0; i < 25; i++ {
				if _, err := eng.registry.Start(StartParams{DockID: dock, PushToken: token}); err != nil {
					t.Errorf("Start failed: %v", err)
					return
				}
				eng.registry.Get(dock, token)
				eng.registry.ListForDevice("device")
				eng.registry.End(dock, token)
			}
		}(worker)
	}
	wg.Wait()

	if docks, sessions := eng.registry.Stats(); docks != 0 || sessions != 0 {
		t.Errorf("stats = (%d, %d), want empty after all ends", docks, sessions)
	}
}
