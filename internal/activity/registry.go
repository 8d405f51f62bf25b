package activity

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/push"
)

// StateFetcher supplies current dock availability.
type StateFetcher interface {
	Dock(ctx context.Context, id string) (bikepoint.DockState, error)
}

// OverrideSource supplies operator-set counter substitutions. A hit
// replaces the fetched counters wholesale.
type OverrideSource interface {
	Counters(dockID string) (bikepoint.Counts, bool)
}

// Pusher delivers the registry's pushes. Implementations must fold
// failures into the result rather than returning errors, so one bad
// token cannot abort a fan-out.
type Pusher interface {
	SendStateUpdate(ctx context.Context, u push.StateUpdate) push.Result
	SendAlert(ctx context.Context, a push.Alert) push.Result
}

const (
	defaultPollInterval = 30 * time.Second
	defaultFetchTimeout = 10 * time.Second
)

// Config assembles a [Registry].
type Config struct {
	// Fetcher reads upstream dock state. Required.
	Fetcher StateFetcher

	// Pusher delivers state updates and alerts. Required.
	Pusher Pusher

	// Overrides substitutes counters when set for a dock. Optional.
	Overrides OverrideSource

	// PollInterval is the delay between a dock's ticks. Defaults to 30s.
	// Sane minimums are enforced at the config boundary, not here.
	PollInterval time.Duration

	// FetchTimeout bounds each upstream fetch. Defaults to 10s.
	FetchTimeout time.Duration

	// DefaultExpiry applies when a start request declares no expiry.
	// Defaults to 1h.
	DefaultExpiry time.Duration

	// MaxSessionWindow is the server-side hard stop applied to every
	// session regardless of its declared expiry. Defaults to the global
	// 2h ceiling.
	MaxSessionWindow time.Duration

	Logger *slog.Logger
}

// Registry is the arena owning every live subscription and the poller
// for each dock that has at least one. All access to session state goes
// through its methods; nothing else holds the maps.
type Registry struct {
	fetcher   StateFetcher
	pusher    Pusher
	overrides OverrideSource
	logger    *slog.Logger

	pollInterval  time.Duration
	fetchTimeout  time.Duration
	defaultExpiry time.Duration
	maxWindow     time.Duration

	// ctx parents all fetch and push I/O; Close cancels it so in-flight
	// calls abort promptly during shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pollers map[string]*dockPoller
	closed  bool
	wg      sync.WaitGroup
}

// NewRegistry creates a [Registry] from cfg.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("activity: fetcher is required")
	}
	if cfg.Pusher == nil {
		return nil, errors.New("activity: pusher is required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	defaultExpiry := cfg.DefaultExpiry
	if defaultExpiry <= 0 {
		defaultExpiry = defaultDeclaredExpiry
	}

	maxWindow := cfg.MaxSessionWindow
	if maxWindow <= 0 {
		maxWindow = hardSessionCutoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		fetcher:       cfg.Fetcher,
		pusher:        cfg.Pusher,
		overrides:     cfg.Overrides,
		logger:        logger,
		pollInterval:  pollInterval,
		fetchTimeout:  fetchTimeout,
		defaultExpiry: defaultExpiry,
		maxWindow:     maxWindow,
		ctx:           ctx,
		cancel:        cancel,
		pollers:       make(map[string]*dockPoller),
	}, nil
}

// Start registers a subscription and returns it with its effective
// expiry resolved.
//
// An existing (dock, push token) entry is overwritten as a fresh
// registration: timers reset, primed state cleared. The first
// subscription for a dock creates its poller synchronously; subsequent
// ones request an immediate out-of-band poll so the new subscriber gets
// its confirmation push without waiting for the next tick.
func (r *Registry) Start(params StartParams) (Subscription, error) {
	if err := params.validate(); err != nil {
		return Subscription{}, err
	}

	declared := params.DeclaredExpiry
	if declared <= 0 {
		declared = r.defaultExpiry
	}
	metric := params.PrimaryMetric
	if metric == "" {
		metric = bikepoint.MetricBikes
	}

	now := time.Now()
	sub := &Subscription{
		DockID:         params.DockID,
		PushToken:      params.PushToken,
		Environment:    params.Environment,
		StartedAt:      now,
		DeclaredExpiry: declared,
		HardStopAt:     now.Add(r.maxWindow),
		PrimaryMetric:  metric,
		Thresholds:     copyThresholds(params.Thresholds),
		Alternates:     append([]bikepoint.Alternate(nil), params.Alternates...),
		DeviceToken:    params.DeviceToken,
		DisplayName:    params.DisplayName,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Subscription{}, ErrClosed
	}
	p, exists := r.pollers[params.DockID]
	if !exists {
		p = newDockPoller(params.DockID)
		r.pollers[params.DockID] = p
		r.wg.Add(1)
	}
	p.mu.Lock()
	p.subs[params.PushToken] = sub
	p.mu.Unlock()
	r.mu.Unlock()

	if !exists {
		go r.run(p)
		r.logger.Info("poller started", "dock", params.DockID)
	} else {
		p.requestPoll()
	}
	return *sub, nil
}

// Update mutates a subscription's alert settings in place. Identity,
// timers, and expiry are never changed; returns [ErrNotFound] when the
// key is unknown.
func (r *Registry) Update(dockID, token string, params UpdateParams) (Subscription, error) {
	r.mu.RLock()
	p, ok := r.pollers[dockID]
	r.mu.RUnlock()
	if !ok {
		return Subscription{}, ErrNotFound
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[token]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	if params.PrimaryMetric != nil {
		sub.PrimaryMetric = *params.PrimaryMetric
	}
	if params.Thresholds != nil {
		sub.Thresholds = copyThresholds(params.Thresholds)
	}
	if params.DisplayName != nil {
		sub.DisplayName = *params.DisplayName
	}
	if params.DeviceToken != nil {
		sub.DeviceToken = *params.DeviceToken
	}
	return *sub, nil
}

// End removes a subscription. Ending the last subscription for a dock
// tears its poller down before End returns, so no tick can fire
// afterwards. Returns false when the key was not present; a second End
// with the same key is a no-op, not an error.
func (r *Registry) End(dockID, token string) bool {
	r.mu.Lock()
	p, ok := r.pollers[dockID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	p.mu.Lock()
	_, present := p.subs[token]
	if present {
		delete(p.subs, token)
	}
	tearDown := len(p.subs) == 0 && !p.stopped
	if tearDown {
		p.stopped = true
		close(p.stop)
		if r.pollers[p.id] == p {
			delete(r.pollers, p.id)
		}
	}
	p.mu.Unlock()
	r.mu.Unlock()

	if tearDown {
		r.logger.Info("poller stopped", "dock", dockID, "reason", "last subscription ended")
	}
	return present
}

// Get returns a snapshot of a subscription.
func (r *Registry) Get(dockID, token string) (Subscription, bool) {
	r.mu.RLock()
	p, ok := r.pollers[dockID]
	r.mu.RUnlock()
	if !ok {
		return Subscription{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[token]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// ListForDevice returns snapshots of the device's live subscriptions,
// most recently started first. Entries already past their effective
// expiry are excluded, evaluated now rather than at storage time.
func (r *Registry) ListForDevice(deviceToken string) []Subscription {
	now := time.Now()

	r.mu.RLock()
	pollers := make([]*dockPoller, 0, len(r.pollers))
	for _, p := range r.pollers {
		pollers = append(pollers, p)
	}
	r.mu.RUnlock()

	var out []Subscription
	for _, p := range pollers {
		p.mu.Lock()
		for _, sub := range p.subs {
			if sub.DeviceToken == deviceToken && now.Before(sub.ExpiresAt()) {
				out = append(out, *sub)
			}
		}
		p.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Stats reports how many docks are being polled and how many
// subscriptions they carry.
func (r *Registry) Stats() (docks, sessions int) {
	r.mu.RLock()
	pollers := make([]*dockPoller, 0, len(r.pollers))
	for _, p := range r.pollers {
		pollers = append(pollers, p)
	}
	r.mu.RUnlock()

	for _, p := range pollers {
		p.mu.Lock()
		if n := len(p.subs); n > 0 {
			docks++
			sessions += n
		}
		p.mu.Unlock()
	}
	return docks, sessions
}

// Close stops every poller, cancels in-flight I/O, and waits for the
// poller goroutines to finish. Safe to call more than once; Start after
// Close returns [ErrClosed]. Sessions are deliberately not persisted, so
// Close drops them.
func (r *Registry) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.cancel()
		for id, p := range r.pollers {
			p.mu.Lock()
			if !p.stopped {
				p.stopped = true
				close(p.stop)
			}
			p.mu.Unlock()
			delete(r.pollers, id)
		}
	}
	r.mu.Unlock()

	r.wg.Wait()
}
