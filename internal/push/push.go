// Package push delivers APNs notifications for the engine: Live Activity
// state updates, user-visible alerts, and contentless wake signals.
//
// All sends are routed by the subscription's environment to the matching
// APNs gateway and authenticated with a shared short-lived provider token.
// Failures never escape the dispatcher as errors; every send returns a
// [Result] the caller inspects, so one bad token cannot abort a fan-out.
package push

import (
	"fmt"
	"net/http"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
)

// Environment selects which APNs gateway a send is routed to.
type Environment string

const (
	// EnvSandbox routes to the APNs development gateway.
	EnvSandbox Environment = "sandbox"

	// EnvProduction routes to the APNs production gateway.
	EnvProduction Environment = "production"
)

// Default APNs gateway hosts.
const (
	DefaultProductionHost = "api.push.apple.com"
	DefaultSandboxHost    = "api.sandbox.push.apple.com"
)

// ParseEnvironment converts a wire value into an [Environment].
func ParseEnvironment(s string) (Environment, error) {
	switch e := Environment(s); e {
	case EnvSandbox, EnvProduction:
		return e, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// String returns the string representation of the environment.
func (e Environment) String() string {
	return string(e)
}

// Event distinguishes the two Live Activity push kinds.
type Event string

const (
	// EventUpdate refreshes the remote card with new content.
	EventUpdate Event = "update"

	// EventEnd terminates the remote card and dismisses it immediately.
	EventEnd Event = "end"
)

// StateUpdate is one Live Activity content push for a subscription.
type StateUpdate struct {
	// Token is the Live Activity push token (the state-update channel).
	Token string

	// Environment selects the gateway.
	Environment Environment

	// Event is update or end.
	Event Event

	// State carries the counters and display name for the card.
	State bikepoint.DockState

	// Alternates is the subscription's stored nearby-dock snapshots,
	// passed through untouched.
	Alternates []bikepoint.Alternate
}

// Alert is a user-visible notification push.
type Alert struct {
	// DeviceToken is the app's notification token (the alert channel,
	// distinct from the Live Activity push token).
	DeviceToken string

	Environment Environment

	// Message is the rendered alert text.
	Message string
}

// Wake is a contentless background push telling the app to refresh
// itself. Sent at low priority with zero expiration so the gateway drops
// it rather than queueing a stale wake.
type Wake struct {
	DeviceToken string
	Environment Environment
}

// APNs rejection reasons that mean the token will never work again.
// 410 Unregistered carries its own status code and is handled separately.
var permanentReasons = map[string]bool{
	"Unregistered":           true,
	"BadDeviceToken":         true,
	"DeviceTokenNotForTopic": true,
}

// Result is the outcome of one send.
//
// Err is set for transport-level failures (connection, timeout, token
// minting); Status and Reason reflect the gateway's response otherwise.
type Result struct {
	// Delivered is true when the gateway accepted the push.
	Delivered bool

	// Status is the HTTP status returned by the gateway.
	// Zero if the request never completed.
	Status int

	// Reason is the gateway's rejection reason, if any.
	Reason string

	// ApnsID is the id sent with the request, for correlating logs
	// against the gateway's delivery records.
	ApnsID string

	// Err is the transport error, if the send never reached a response.
	Err error
}

// Permanent reports whether the failure means the token is dead and its
// registration should be removed rather than retried.
func (r Result) Permanent() bool {
	if r.Delivered {
		return false
	}
	return r.Status == http.StatusGone || permanentReasons[r.Reason]
}
