package activity

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/alert"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/push"
)

// dockPoller holds one dock's polling state: its subscriptions, the last
// observed state, and the channels its timer loop listens on. The state
// machine is two-valued: a dockPoller in the registry map is Polling,
// one removed (stopped set, stop closed) is gone. There is no paused
// state; emptiness tears the poller down.
type dockPoller struct {
	id string

	// kick requests an immediate out-of-band tick. Buffered by one; a
	// pending request is enough.
	kick chan struct{}

	// stop is closed exactly once, under mu, when the poller is torn
	// down. The run loop exits on it.
	stop chan struct{}

	mu      sync.Mutex
	subs    map[string]*Subscription
	last    *bikepoint.DockState // nil until the first successful fetch
	stopped bool
}

func newDockPoller(id string) *dockPoller {
	return &dockPoller{
		id:   id,
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		subs: make(map[string]*Subscription),
	}
}

// requestPoll asks the run loop for an immediate tick. Non-blocking.
func (p *dockPoller) requestPoll() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// run is the poller's timer loop. The first tick fires immediately; the
// timer re-arms only after a tick has fully committed, so ticks for the
// same dock never overlap. Exactly one run goroutine exists per live
// poller.
func (r *Registry) run(p *dockPoller) {
	defer r.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-timer.C:
		case <-p.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if done := r.tick(p); done {
			return
		}

		// a poll request queued during the tick is already satisfied
		select {
		case <-p.kick:
		default:
		}
		timer.Reset(r.pollInterval)
	}
}

// tick runs one poll cycle: expiry sweep, fetch, override substitution,
// diff, alert evaluation, dispatch. Reports true when the poller is done
// and the run loop should exit. A panic is recovered and logged; the
// poller keeps running.
func (r *Registry) tick(p *dockPoller) (done bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tick panic",
				"dock", p.id,
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
		}
	}()

	now := time.Now()

	// expiry sweep under the poller lock; terminal pushes go out after
	// it is released
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return true
	}
	var expired []*Subscription
	for token, sub := range p.subs {
		if !now.Before(sub.ExpiresAt()) {
			delete(p.subs, token)
			expired = append(expired, sub)
		}
	}
	swept := len(p.subs) == 0
	lastState := p.last
	p.mu.Unlock()

	for _, sub := range expired {
		var state bikepoint.DockState
		if lastState != nil {
			state = *lastState
		}
		if state.Name == "" {
			state.Name = p.id
		}
		result := r.pusher.SendStateUpdate(r.ctx, push.StateUpdate{
			Token:       sub.PushToken,
			Environment: sub.Environment,
			Event:       push.EventEnd,
			State:       state,
			Alternates:  sub.Alternates,
		})
		r.logger.Info("subscription ended",
			"dock", p.id,
			"reason", "expired",
			"delivered", result.Delivered)
	}

	if swept {
		return r.removePoller(p)
	}

	// re-check before the fetch: End may have torn the poller down
	// while terminal pushes were in flight
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return true
	}

	fetchCtx, cancel := context.WithTimeout(r.ctx, r.fetchTimeout)
	state, err := r.fetcher.Dock(fetchCtx, p.id)
	cancel()
	if err != nil {
		// no state change assumed; the next tick retries naturally
		r.logger.Warn("fetch failed", "dock", p.id, "error", err)
		return false
	}

	if r.overrides != nil {
		if counts, ok := r.overrides.Counters(p.id); ok {
			state.Counts = counts
		}
	}
	if state.Name == "" {
		state.Name = p.id
	}

	alerts, updates, done := r.planDispatch(p, state)
	if done {
		return true
	}

	for _, a := range alerts {
		if result := r.pusher.SendAlert(r.ctx, a); result.Permanent() {
			r.disableAlerts(p, a.DeviceToken)
		}
	}

	for _, u := range updates {
		// skip entries removed between planning and dispatch
		p.mu.Lock()
		_, present := p.subs[u.Token]
		p.mu.Unlock()
		if !present {
			continue
		}

		if result := r.pusher.SendStateUpdate(r.ctx, u); result.Permanent() {
			r.removeSubscription(p, u.Token)
		}
	}

	p.mu.Lock()
	empty := len(p.subs) == 0
	p.mu.Unlock()
	if empty {
		return r.removePoller(p)
	}
	return false
}

// planDispatch merges the fetched state under the poller lock and
// decides what to send. Alert evaluation is pure, so it runs under the
// lock; the sends themselves do not.
//
// On a counter change every subscription gets a state update and an
// alert evaluation; otherwise only not-yet-primed subscriptions get
// their confirmation push. Identical (device, metric, message) alerts
// are collapsed within the tick.
func (r *Registry) planDispatch(p *dockPoller, state bikepoint.DockState) (alerts []push.Alert, updates []push.StateUpdate, done bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, nil, true
	}

	previous := state.Counts
	if p.last != nil {
		previous = p.last.Counts
	}
	changed := p.last == nil || p.last.Counts != state.Counts

	seen := make(map[string]struct{})
	for _, sub := range p.subs {
		if changed && sub.DeviceToken != "" {
			name := sub.DisplayName
			if name == "" {
				name = state.Name
			}
			prev := sub.PrimaryMetric.Value(previous)
			cur := sub.PrimaryMetric.Value(state.Counts)
			if message, fire := alert.Evaluate(name, sub.PrimaryMetric, prev, cur, sub.Threshold()); fire {
				key := sub.DeviceToken + "\x00" + sub.PrimaryMetric.String() + "\x00" + message
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					alerts = append(alerts, push.Alert{
						DeviceToken: sub.DeviceToken,
						Environment: sub.Environment,
						Message:     message,
					})
				}
			}
		}

		if changed || !sub.primed {
			updates = append(updates, push.StateUpdate{
				Token:       sub.PushToken,
				Environment: sub.Environment,
				Event:       push.EventUpdate,
				State:       state,
				Alternates:  sub.Alternates,
			})
			sub.primed = true
		}
	}

	p.last = &state
	return alerts, updates, false
}

// removeSubscription drops a subscription whose push token the gateway
// rejected as permanently invalid. Teardown of an emptied poller is left
// to the caller's end-of-tick check.
func (r *Registry) removeSubscription(p *dockPoller, token string) {
	p.mu.Lock()
	_, ok := p.subs[token]
	if ok {
		delete(p.subs, token)
	}
	p.mu.Unlock()

	if ok {
		r.logger.Warn("subscription removed",
			"dock", p.id,
			"reason", "push token rejected as invalid")
	}
}

// disableAlerts clears a dead device token from every subscription on
// this dock. The subscriptions stay live; only their alert channel is
// gone.
func (r *Registry) disableAlerts(p *dockPoller, deviceToken string) {
	p.mu.Lock()
	for _, sub := range p.subs {
		if sub.DeviceToken == deviceToken {
			sub.DeviceToken = ""
		}
	}
	p.mu.Unlock()

	r.logger.Warn("alert channel disabled",
		"dock", p.id,
		"reason", "device token rejected as invalid")
}

// removePoller tears the poller down if it is still registered and still
// empty. Returns true when the poller is no longer live and its run loop
// should exit.
func (r *Registry) removePoller(p *dockPoller) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return true
	}
	if len(p.subs) > 0 {
		// a Start raced in after the sweep; keep polling
		return false
	}

	p.stopped = true
	close(p.stop)
	if r.pollers[p.id] == p {
		delete(r.pollers, p.id)
	}
	r.logger.Info("poller stopped", "dock", p.id, "reason", "no subscriptions")
	return true
}
