// Package borisbikes keeps iOS Live Activities in sync with London
// cycle-hire dock availability.
//
// The service polls the TfL BikePoint API for every dock that has at
// least one active subscription, pushes fresh counter state to each
// subscriber's Live Activity over APNs when the numbers change, and
// raises user-visible alerts when availability crosses a subscriber's
// threshold or hits zero. A small HTTP API drives it: devices start,
// update, and end dock subscriptions, register for periodic background
// wakes, and operators can pin counter overrides for testing.
//
// # Quick Start
//
// Create the service and run it with graceful shutdown:
//
//	svc, _ := borisbikes.New(
//	    borisbikes.WithTfLAppKey(os.Getenv("TFL_APP_KEY")),
//	)
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	svc.Start(ctx) // blocks until context is cancelled
//
// Without APNs credentials pushes are logged and dropped, which is the
// intended mode for local development.
//
// # Configuration
//
// The service uses the functional options pattern for configuration:
//
//	svc, err := borisbikes.New(
//	    borisbikes.WithPort(9090),
//	    borisbikes.WithPollInterval(time.Minute),
//	    borisbikes.WithAPNs(borisbikes.APNsCredentials{
//	        KeyFile:  "AuthKey_ABC123DEFG.p8",
//	        KeyID:    "ABC123DEFG",
//	        TeamID:   "TEAM456789",
//	        BundleID: "com.example.borisbikes",
//	    }),
//	    borisbikes.WithStoragePath("/var/lib/borisbikes/borisbikes.db"),
//	)
//
// For YAML-file configuration see the config package, whose Build
// function maps a validated file onto these options.
//
// # Architecture
//
// The package is a thin facade over several internal packages:
//
//   - internal/bikepoint: TfL BikePoint client and dock state types
//   - internal/activity: subscription registry and per-dock pollers
//   - internal/alert: threshold and zero-crossing alert rules
//   - internal/push: APNs HTTP/2 dispatcher with provider-token auth
//   - internal/wake: device roster and periodic background wakes
//   - internal/override: operator-set counter substitutions
//   - internal/server: the HTTP API
//
// The internal packages are not part of the public API and may change
// without notice. The service deploys as a single binary with a sqlite
// file for persistent state.
package borisbikes
