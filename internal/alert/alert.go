// Package alert decides whether a dock availability change deserves a
// human-readable notification, and what it should say.
package alert

import (
	"fmt"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
)

// Evaluate computes the alert message, if any, for a change in one
// counter observed by one subscription.
//
// Evaluate is a pure function: the same inputs always produce the same
// message. It is called once per subscription per state change with that
// subscription's primary metric and threshold; de-duplication across
// subscriptions sharing a device happens in the caller.
//
// The rules, first match wins:
//   - No change: no alert.
//   - Below a positive threshold: alert, with severity by direction
//     (hit zero, fell further, or rose while still short).
//   - Crossed up through the threshold: recovered.
//   - Hit zero or recovered from zero: always alert-worthy, threshold or not.
//
// A zero threshold disables threshold alerting for the metric; only the
// zero-crossing cases fire.
func Evaluate(displayName string, metric bikepoint.Metric, previous, current, threshold int) (string, bool) {
	if previous == current {
		return "", false
	}

	switch {
	case threshold > 0 && current < threshold:
		if current == 0 {
			return fmt.Sprintf("‼️ %s now has no %s available", displayName, metric.Plural()), true
		}
		if current < previous {
			return fmt.Sprintf("⚠️ %s only has %d %s available", displayName, current, metric.Label(current)), true
		}
		return fmt.Sprintf("✅ %s now has %d %s available", displayName, current, metric.Label(current)), true

	case threshold > 0 && previous < threshold && current >= threshold:
		return fmt.Sprintf("✅ %s now has %d %s available", displayName, current, metric.Label(current)), true

	case previous > 0 && current == 0:
		return fmt.Sprintf("‼️ %s no longer has any %s", displayName, metric.Plural()), true

	case previous == 0 && current > 0:
		return fmt.Sprintf("✅ %s now has %d %s available", displayName, current, metric.Label(current)), true
	}

	return "", false
}
