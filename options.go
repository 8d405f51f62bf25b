package borisbikes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/activity"
)

// svcConfig holds mutable state during Service construction.
type svcConfig struct {
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

// Option is a function that configures a [Service] instance during
// construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*svcConfig) error

// WithPort sets the HTTP port for the API server.
//
// Defaults to 8080 if not specified.
//
// Example:
//
//	svc, err := borisbikes.New(
//	    borisbikes.WithPort(9090),
//	)
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *svcConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithPollInterval sets how often each watched dock is re-read from the
// upstream API.
//
// The interval applies per dock; a dock's timer also resets whenever an
// out-of-band poll is requested for it. Defaults to 30 seconds if not
// specified.
//
// Example:
//
//	svc, err := borisbikes.New(
//	    borisbikes.WithPollInterval(time.Minute),
//	)
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *svcConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithFetchTimeout bounds each upstream dock fetch.
//
// Defaults to 10 seconds if not specified.
//
// Returns an error if the duration is zero or negative.
func WithFetchTimeout(d time.Duration) Option {
	return func(cfg *svcConfig) error {
		if d <= 0 {
			return errors.New("fetch timeout must be positive")
		}
		cfg.fetchTimeout = d
		return nil
	}
}

// WithDefaultExpiry sets the session lifetime applied when a start
// request declares no expiry of its own.
//
// Defaults to 1 hour if not specified. Whatever is declared or
// defaulted, no session outlives the two hour ceiling.
//
// Returns an error if the duration is zero or negative.
func WithDefaultExpiry(d time.Duration) Option {
	return func(cfg *svcConfig) error {
		if d <= 0 {
			return errors.New("default expiry must be positive")
		}
		cfg.defaultExpiry = d
		return nil
	}
}

// WithMaxSessionWindow sets the server-side hard stop applied to every
// session regardless of its declared expiry.
//
// Defaults to 2 hours, which is also the global ceiling; a longer window
// has no effect because the ceiling still binds.
//
// Example:
//
//	svc, err := borisbikes.New(
//	    borisbikes.WithMaxSessionWindow(30 * time.Minute),
//	)
//
// Returns an error if the duration is zero or negative.
func WithMaxSessionWindow(d time.Duration) Option {
	return func(cfg *svcConfig) error {
		if d <= 0 {
			return errors.New("max session window must be positive")
		}
		cfg.maxWindow = d
		return nil
	}
}

// WithWakeInterval sets how often a silent background wake is fanned out
// to every registered device.
//
// Defaults to 15 minutes if not specified. Has no effect after
// [WithWakeDisabled].
//
// Returns an error if the duration is zero or negative.
func WithWakeInterval(d time.Duration) Option {
	return func(cfg *svcConfig) error {
		if d <= 0 {
			return errors.New("wake interval must be positive")
		}
		cfg.wakeInterval = d
		return nil
	}
}

// WithWakeDisabled turns the periodic background wake off entirely.
//
// The device registration endpoints respond with 503 while disabled, and
// no wake broadcaster is started.
func WithWakeDisabled() Option {
	return func(cfg *svcConfig) error {
		cfg.wakeEnabled = false
		return nil
	}
}

// WithTfLBaseURL points the dock fetcher at a different upstream, mainly
// for tests running against a local stub of the TfL API.
//
// Example:
//
//	svc, err := borisbikes.New(
//	    borisbikes.WithTfLBaseURL("http://127.0.0.1:9321"),
//	)
//
// Returns an error if the URL does not parse or is not http(s).
func WithTfLBaseURL(rawURL string) Option {
	return func(cfg *svcConfig) error {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("invalid TfL base URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("TfL base URL must be http or https, got %q", rawURL)
		}
		cfg.tflBaseURL = rawURL
		return nil
	}
}

// WithTfLAppKey sets the application key sent with every upstream
// request. Without one, TfL applies its anonymous rate limits.
//
// Returns an error if the key is empty.
func WithTfLAppKey(key string) Option {
	return func(cfg *svcConfig) error {
		if key == "" {
			return errors.New("TfL app key cannot be empty")
		}
		cfg.tflAppKey = key
		return nil
	}
}

// WithTfLTimeout bounds each HTTP request to the upstream API. This is
// the client's own limit; [WithFetchTimeout] is the poll loop's bound on
// the same call, and the shorter of the two wins.
//
// Defaults to 10 seconds if not specified.
//
// Returns an error if the duration is zero or negative.
func WithTfLTimeout(d time.Duration) Option {
	return func(cfg *svcConfig) error {
		if d <= 0 {
			return errors.New("TfL timeout must be positive")
		}
		cfg.tflTimeout = d
		return nil
	}
}

// WithAPNs supplies the provider-token credentials for the push
// gateways. Without them the service runs with a logging no-op
// dispatcher, which is the intended mode for local development.
//
// Example:
//
//	svc, err := borisbikes.New(
//	    borisbikes.WithAPNs(borisbikes.APNsCredentials{
//	        KeyFile:  "AuthKey_ABC123DEFG.p8",
//	        KeyID:    "ABC123DEFG",
//	        TeamID:   "TEAM456789",
//	        BundleID: "com.example.borisbikes",
//	    }),
//	)
//
// Returns an error if any required field is missing or the push timeout
// is negative.
func WithAPNs(creds APNsCredentials) Option {
	return func(cfg *svcConfig) error {
		if creds.KeyFile == "" {
			return errors.New("APNs key file is required")
		}
		if creds.KeyID == "" {
			return errors.New("APNs key id is required")
		}
		if creds.TeamID == "" {
			return errors.New("APNs team id is required")
		}
		if creds.BundleID == "" {
			return errors.New("APNs bundle id is required")
		}
		if creds.PushTimeout < 0 {
			return errors.New("APNs push timeout cannot be negative")
		}
		cfg.apns = &creds
		return nil
	}
}

// WithStoragePath sets the sqlite database file backing device
// registrations and counter overrides.
//
// Defaults to "borisbikes.db" in the working directory.
//
// Returns an error if the path is empty.
func WithStoragePath(path string) Option {
	return func(cfg *svcConfig) error {
		if path == "" {
			return errors.New("storage path cannot be empty")
		}
		cfg.storagePath = path
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the service.
//
// This allows consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	svc, err := borisbikes.New(
//	    borisbikes.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *svcConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithFetcher replaces the TfL-backed dock fetcher.
//
// Primarily for tests and embedders that already hold dock state; when
// set, the TfL options are ignored and no upstream client is built.
//
// Returns an error if the fetcher is nil.
func WithFetcher(f activity.StateFetcher) Option {
	return func(cfg *svcConfig) error {
		if f == nil {
			return errors.New("fetcher cannot be nil")
		}
		cfg.fetcher = f
		return nil
	}
}

// WithPusher replaces the APNs dispatcher with a custom [PushGateway].
//
// Primarily for tests; when set, [WithAPNs] credentials are ignored and
// no gateway client is built.
//
// Returns an error if the pusher is nil.
func WithPusher(p PushGateway) Option {
	return func(cfg *svcConfig) error {
		if p == nil {
			return errors.New("pusher cannot be nil")
		}
		cfg.pusher = p
		return nil
	}
}
