package borisbikes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/activity"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/override"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/push"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/server"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/wake"
)

const (
	defaultPort          = 8080
	defaultPollInterval  = 30 * time.Second
	defaultFetchTimeout  = 10 * time.Second
	defaultSessionExpiry = time.Hour
	defaultSessionWindow = 2 * time.Hour
	defaultWakeInterval  = 15 * time.Minute
	defaultTfLTimeout    = 10 * time.Second
	defaultStoragePath   = "borisbikes.db"

	// wakeConcurrency bounds the broadcaster's fan-out worker pool.
	wakeConcurrency = 4
)

// PushGateway delivers every kind of push the engine produces: Live
// Activity state updates, user-visible alerts, and silent background
// wakes. It is satisfied by the APNs dispatcher and by the logging no-op
// used when no credentials are configured; tests inject their own via
// [WithPusher].
//
// Implementations must fold delivery failures into the [push.Result]
// rather than returning errors, so one bad token cannot abort a fan-out.
type PushGateway interface {
	SendStateUpdate(ctx context.Context, u push.StateUpdate) push.Result
	SendAlert(ctx context.Context, a push.Alert) push.Result
	SendWake(ctx context.Context, w push.Wake) push.Result
}

// APNsCredentials carries the provider-token signing material for the
// push gateways.
type APNsCredentials struct {
	// KeyFile is the path to the .p8 signing key.
	KeyFile string

	// KeyID is the 10-character id of the signing key.
	KeyID string

	// TeamID is the Apple developer team id the key belongs to.
	TeamID string

	// BundleID is the app's bundle identifier, used to derive the
	// apns-topic for each push kind.
	BundleID string

	// PushTimeout bounds each send. Zero uses the dispatcher default.
	PushTimeout time.Duration

	// ProductionHost and SandboxHost override the gateway hosts, mainly
	// for tests pointing at a local server.
	ProductionHost string
	SandboxHost    string
}

// Service is the main orchestrator for dock polling and push delivery.
//
// Service wires the upstream dock fetcher, the subscription registry,
// the wake broadcaster, the sqlite-backed stores, and the HTTP API into
// one lifecycle. It is created using [New] with functional options and
// started with [Service.Start].
//
// The typical lifecycle is:
//
//	svc, err := borisbikes.New(borisbikes.WithPort(9090))
//	if err != nil {
//	    slog.Error("failed to create service", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	svc.Start(ctx) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancel the context
// to trigger graceful shutdown.
type Service struct {
	port          int
	pollInterval  time.Duration
	fetchTimeout  time.Duration
	defaultExpiry time.Duration
	maxWindow     time.Duration
	wakeEnabled   bool
	wakeInterval  time.Duration
	tflBaseURL    string
	tflAppKey     string
	tflTimeout    time.Duration
	apns          *APNsCredentials
	storagePath   string
	logger        *slog.Logger
	fetcher       activity.StateFetcher
	pusher        PushGateway
}

// New creates a new [Service] with the given options.
//
// Every option has a sensible default:
//   - Port: 8080
//   - Poll interval: 30 seconds, fetch timeout: 10 seconds
//   - Session default expiry: 1 hour, hard window: 2 hours
//   - Wake: enabled, every 15 minutes
//   - Storage: borisbikes.db in the working directory
//
// Without [WithAPNs] the service runs with a logging no-op push
// dispatcher, and without [WithTfLAppKey] upstream requests are made
// anonymously, so New() with no options yields a working local setup.
//
// Returns an error if any option is invalid.
func New(opts ...Option) (*Service, error) {
	cfg := &svcConfig{
		port:          defaultPort,
		pollInterval:  defaultPollInterval,
		fetchTimeout:  defaultFetchTimeout,
		defaultExpiry: defaultSessionExpiry,
		maxWindow:     defaultSessionWindow,
		wakeEnabled:   true,
		wakeInterval:  defaultWakeInterval,
		tflTimeout:    defaultTfLTimeout,
		storagePath:   defaultStoragePath,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.port)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		port:          cfg.port,
		pollInterval:  cfg.pollInterval,
		fetchTimeout:  cfg.fetchTimeout,
		defaultExpiry: cfg.defaultExpiry,
		maxWindow:     cfg.maxWindow,
		wakeEnabled:   cfg.wakeEnabled,
		wakeInterval:  cfg.wakeInterval,
		tflBaseURL:    cfg.tflBaseURL,
		tflAppKey:     cfg.tflAppKey,
		tflTimeout:    cfg.tflTimeout,
		apns:          cfg.apns,
		storagePath:   cfg.storagePath,
		logger:        logger,
		fetcher:       cfg.fetcher,
		pusher:        cfg.pusher,
	}, nil
}

// Start wires the components together and serves the API.
//
// Start is a blocking call that runs until the provided context is
// cancelled. During execution:
//
//   - The sqlite store is opened and migrated
//   - Watched docks are polled at the configured interval
//   - State updates and alerts are pushed as dock state changes
//   - Registered devices receive periodic background wakes
//   - The HTTP API is available on the configured port
//
// The caller controls the lifecycle via context cancellation. For signal
// handling, use [signal.NotifyContext]:
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//	svc.Start(ctx)
//
// Returns nil on graceful shutdown. Returns an error if a component
// fails to initialise or the HTTP server fails to start.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("borisbikes starting",
		"port", s.port,
		"poll_interval", s.pollInterval.String(),
		"wake_enabled", s.wakeEnabled)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	db, err := gorm.Open(sqlite.Open(s.storagePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database at %s: %w", s.storagePath, err)
	}
	closeDB := func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}

	overrides, err := override.NewStore(db, s.logger)
	if err != nil {
		closeDB()
		return fmt.Errorf("failed to initialise override store: %w", err)
	}
	wakeStore, err := wake.NewStore(db)
	if err != nil {
		closeDB()
		return fmt.Errorf("failed to initialise wake store: %w", err)
	}

	// the fetcher is either injected or a real TfL client; only the
	// latter is ours to close
	fetcher := s.fetcher
	var tfl *bikepoint.Client
	if fetcher == nil {
		tfl = bikepoint.NewClient(s.tflBaseURL, s.tflAppKey, s.tflTimeout, s.logger)
		fetcher = tfl
	}

	pusher := s.pusher
	if pusher == nil {
		pusher, err = s.buildPusher()
		if err != nil {
			closeDB()
			return err
		}
	}

	registry, err := activity.NewRegistry(activity.Config{
		Fetcher:          fetcher,
		Pusher:           pusher,
		Overrides:        overrides,
		PollInterval:     s.pollInterval,
		FetchTimeout:     s.fetchTimeout,
		DefaultExpiry:    s.defaultExpiry,
		MaxSessionWindow: s.maxWindow,
		Logger:           s.logger,
	})
	if err != nil {
		closeDB()
		return fmt.Errorf("failed to build activity registry: %w", err)
	}

	var broadcaster *wake.Broadcaster
	var serverWake *wake.Store
	if s.wakeEnabled {
		serverWake = wakeStore
		broadcaster = wake.NewBroadcaster(wakeStore, pusher, s.wakeInterval, wakeConcurrency, s.logger)
		broadcaster.Start(ctx)
	}

	// cleanup tears components down in dependency order: stop producing
	// pushes before closing the stores underneath them
	cleanup := func() {
		if broadcaster != nil {
			broadcaster.Stop()
		}
		registry.Close()
		if tfl != nil {
			tfl.Close()
		}
		closeDB()
	}

	httpServer := server.NewServer(registry, serverWake, overrides, fetcher, s.port, s.logger)
	if err := httpServer.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d", s.port))

	<-ctx.Done()
	cleanup()
	s.logger.Info("borisbikes stopped")
	return nil
}

// buildPusher constructs the push gateway from the configured
// credentials, falling back to the logging no-op without any.
func (s *Service) buildPusher() (PushGateway, error) {
	if s.apns == nil {
		s.logger.Warn("push credentials not configured, pushes will be logged and dropped")
		return push.NewNoopDispatcher(s.logger), nil
	}

	keyPEM, err := os.ReadFile(s.apns.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key %s: %w", s.apns.KeyFile, err)
	}

	dispatcher, err := push.NewDispatcher(push.Config{
		KeyPEM:         keyPEM,
		KeyID:          s.apns.KeyID,
		TeamID:         s.apns.TeamID,
		BundleID:       s.apns.BundleID,
		Timeout:        s.apns.PushTimeout,
		ProductionHost: s.apns.ProductionHost,
		SandboxHost:    s.apns.SandboxHost,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build push dispatcher: %w", err)
	}
	return dispatcher, nil
}

// Port returns the configured HTTP port for the API server.
func (s *Service) Port() int {
	return s.port
}

// PollInterval returns the configured interval between dock polls.
func (s *Service) PollInterval() time.Duration {
	return s.pollInterval
}

// WakeEnabled reports whether the periodic background wake is on.
func (s *Service) WakeEnabled() bool {
	return s.wakeEnabled
}

// StoragePath returns the sqlite database file path.
func (s *Service) StoragePath() string {
	return s.storagePath
}
