// Package activity implements the session engine: the registry of live
// subscriptions and the per-dock pollers that keep them synchronized.
//
// This package is internal and owns all mutable session state. The main
// components are:
//
//   - [Subscription]: one device's live-status registration for one dock
//   - [Registry]: the arena owning every subscription and poller
//   - dockPoller: the per-dock timer loop running the poll/diff/push cycle
//
// A dock is polled only while it has at least one subscription. The poller
// is created synchronously by the first [Registry.Start] for a dock and
// torn down synchronously when its last subscription ends, so no timer
// outlives its subscribers.
//
// Locking follows one rule: the registry lock (structural changes) is
// always taken before a poller's lock (its subscription map and last
// observed state), and no fetch or push I/O happens under either.
package activity
