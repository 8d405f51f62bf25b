// Package bikepoint provides the dock availability model and the TfL
// BikePoint client used to observe it.
//
// The types here are the shared vocabulary of the engine: [Counts] is the
// availability triple every other package diffs, overrides, and pushes,
// and [Metric] names the counter a subscription alerts on.
package bikepoint

import (
	"fmt"
	"time"
)

// MaxAlternates caps the number of nearby-dock snapshots a subscription
// may carry. Alternates are opaque pass-through data; the engine only
// enforces the cap.
const MaxAlternates = 5

// Counts holds the three availability counters for a dock.
//
// Counts is a comparable value type; two Counts are equal when all three
// counters match. Display-name differences are deliberately not part of
// equality, so a renamed dock does not register as a state change.
type Counts struct {
	// Bikes is the number of standard (pedal) bikes available.
	Bikes int `json:"bikes"`

	// EBikes is the number of e-bikes available.
	EBikes int `json:"ebikes"`

	// Docks is the number of free docking points available.
	Docks int `json:"docks"`
}

// DockState is one observation of a dock: its counters plus display
// metadata. Produced by the TfL client or by applying an override.
type DockState struct {
	Counts

	// Name is the dock's human-readable name (TfL commonName).
	// May be empty when the upstream omits it.
	Name string `json:"name,omitempty"`

	// FetchedAt is when this observation was taken.
	FetchedAt time.Time `json:"fetched_at"`
}

// Alternate is a nearby-dock snapshot attached to a subscription and
// passed through in state-update pushes unchanged.
type Alternate struct {
	// Name is the nearby dock's display name.
	Name string `json:"name"`

	Counts
}

// Metric identifies which counter a subscription treats as its headline
// number for alerting.
type Metric string

const (
	// MetricBikes alerts on standard bike availability.
	MetricBikes Metric = "bikes"

	// MetricEBikes alerts on e-bike availability.
	MetricEBikes Metric = "ebikes"

	// MetricDocks alerts on free dock availability.
	MetricDocks Metric = "docks"
)

// ParseMetric converts a wire value into a [Metric].
// Returns an error for anything other than the three known values.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricBikes, MetricEBikes, MetricDocks:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// String returns the string representation of the metric.
// This implements the fmt.Stringer interface.
func (m Metric) String() string {
	return string(m)
}

// Value returns the counter this metric reads from c.
// Unknown metrics read as zero.
func (m Metric) Value(c Counts) int {
	switch m {
	case MetricBikes:
		return c.Bikes
	case MetricEBikes:
		return c.EBikes
	case MetricDocks:
		return c.Docks
	}
	return 0
}

// Label returns the human label for a count of n, singular when n is
// exactly 1 ("1 bike", "2 bikes").
func (m Metric) Label(n int) string {
	if n == 1 {
		switch m {
		case MetricBikes:
			return "bike"
		case MetricEBikes:
			return "e-bike"
		case MetricDocks:
			return "dock"
		}
	}
	return m.Plural()
}

// Plural returns the plural human label for the metric.
func (m Metric) Plural() string {
	switch m {
	case MetricBikes:
		return "bikes"
	case MetricEBikes:
		return "e-bikes"
	case MetricDocks:
		return "docks"
	}
	return string(m)
}
