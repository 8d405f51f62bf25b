package activity

import (
	"errors"
	"fmt"
	"time"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/push"
)

// hardSessionCutoff is the global ceiling no session may outlive,
// whatever expiry the client declares.
const hardSessionCutoff = 2 * time.Hour

// defaultDeclaredExpiry applies when a start request declares no expiry.
const defaultDeclaredExpiry = time.Hour

var (
	// ErrNotFound is returned when no subscription exists for a
	// (dock, push token) key.
	ErrNotFound = errors.New("subscription not found")

	// ErrClosed is returned by Start once the registry has shut down.
	ErrClosed = errors.New("registry is closed")
)

// Subscription is one device's live-status registration for one dock,
// keyed by (DockID, PushToken).
type Subscription struct {
	// DockID is the TfL BikePoint id being watched.
	DockID string

	// PushToken addresses the device's Live Activity channel and is the
	// subscription's identity within its dock.
	PushToken string

	// Environment selects the push gateway for every send.
	Environment push.Environment

	// StartedAt is when the registration was (re)created.
	StartedAt time.Time

	// DeclaredExpiry is the client-requested lifetime. It is one input
	// to the effective expiry, never the whole answer.
	DeclaredExpiry time.Duration

	// HardStopAt is the server-computed absolute ceiling, independent
	// of anything the client requested.
	HardStopAt time.Time

	// PrimaryMetric is the counter driving alert evaluation.
	PrimaryMetric bikepoint.Metric

	// Thresholds holds per-metric minimums. A zero (or absent) value
	// disables threshold alerting for that metric; zero-crossings still
	// alert.
	Thresholds map[bikepoint.Metric]int

	// Alternates are nearby-dock snapshots passed through in pushes.
	Alternates []bikepoint.Alternate

	// DeviceToken addresses the user-visible alert channel. Empty means
	// alert pushes are skipped; state updates are unaffected.
	DeviceToken string

	// DisplayName optionally overrides the fetched dock name in alerts.
	DisplayName string

	// primed is set once the subscription has received its first
	// state-update push.
	primed bool
}

// ExpiresAt returns the subscription's effective expiry.
func (s *Subscription) ExpiresAt() time.Time {
	return effectiveExpiry(s.StartedAt, s.DeclaredExpiry, s.HardStopAt)
}

// Threshold returns the minimum for the subscription's primary metric.
func (s *Subscription) Threshold() int {
	return s.Thresholds[s.PrimaryMetric]
}

// effectiveExpiry computes when a session ends: the earliest of the
// declared expiry, the server's hard stop, and the global ceiling. Kept
// as one pure function so the clamping logic exists exactly once.
func effectiveExpiry(startedAt time.Time, declared time.Duration, hardStopAt time.Time) time.Time {
	expiry := startedAt.Add(declared)
	if hardStopAt.Before(expiry) {
		expiry = hardStopAt
	}
	if ceiling := startedAt.Add(hardSessionCutoff); ceiling.Before(expiry) {
		expiry = ceiling
	}
	return expiry
}

// StartParams carries a validated start request into the registry.
type StartParams struct {
	DockID      string
	PushToken   string
	Environment push.Environment

	// DeclaredExpiry is the client-requested lifetime. Non-positive
	// falls back to the registry default.
	DeclaredExpiry time.Duration

	PrimaryMetric bikepoint.Metric
	Thresholds    map[bikepoint.Metric]int
	Alternates    []bikepoint.Alternate
	DeviceToken   string
	DisplayName   string
}

func (p StartParams) validate() error {
	if p.DockID == "" {
		return errors.New("dock id is required")
	}
	if p.PushToken == "" {
		return errors.New("push token is required")
	}
	if len(p.Alternates) > bikepoint.MaxAlternates {
		return fmt.Errorf("at most %d alternates allowed", bikepoint.MaxAlternates)
	}
	for metric, value := range p.Thresholds {
		if value < 0 {
			return fmt.Errorf("threshold for %s must be non-negative", metric)
		}
	}
	return nil
}

// UpdateParams carries an update request. Nil fields are left unchanged;
// a subscription's identity, timers, and expiry are never touched here.
type UpdateParams struct {
	PrimaryMetric *bikepoint.Metric
	Thresholds    map[bikepoint.Metric]int
	DisplayName   *string
	DeviceToken   *string
}

func copyThresholds(in map[bikepoint.Metric]int) map[bikepoint.Metric]int {
	out := make(map[bikepoint.Metric]int, len(in))
	for metric, value := range in {
		out[metric] = value
	}
	return out
}
