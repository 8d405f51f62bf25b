// Package server provides the HTTP API for session, device, and
// override management.
//
// This package is internal and handles all HTTP concerns:
//
//   - Live activity sessions: start, update, and end under /api/activity
//   - Device queries and the wake roster under /api/device
//   - Operator counter overrides at /api/overrides
//   - A bulk dock listing at /api/docks and liveness at /api/health
//
// Every request body is validated here; malformed input is answered
// with 400 and never reaches the engine. The server supports graceful
// shutdown via context cancellation, with a 5-second timeout for
// in-flight requests.
//
// Users of the borisbikes library should not need to interact with this
// package directly. The server is started automatically by
// [borisbikes.Service.Start].
package server
