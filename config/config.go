// Package config provides YAML configuration parsing for the bike dock
// push service.
//
// This package enables running the service as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	server:
//	  port: 8080
//
//	poll:
//	  interval: 30s
//	  fetch_timeout: 10s
//
//	tfl:
//	  app_key: ${TFL_APP_KEY:-}
//
//	apns:
//	  key_file: ${APNS_KEY_FILE}
//	  key_id: ${APNS_KEY_ID}
//	  team_id: ${APNS_TEAM_ID}
//	  bundle_id: com.example.boris-bikes
//
//	storage:
//	  path: /var/lib/borisbikes/borisbikes.db
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// minPollInterval is the minimum allowed dock polling interval.
	// This prevents accidental DoS of the upstream API with overly
	// aggressive polling.
	minPollInterval = 5 * time.Second

	// minWakeInterval is the minimum allowed wake broadcast interval.
	minWakeInterval = time.Minute

	// maxSessionWindow is the ceiling on any session-length setting.
	// Matches the engine's hard session cutoff.
	maxSessionWindow = 2 * time.Hour
)

// Config is the root configuration structure for the service.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Server holds the HTTP API settings.
	Server ServerConfig `yaml:"server"`

	// Poll holds the dock polling settings.
	Poll PollConfig `yaml:"poll"`

	// Session holds the session expiry policy.
	Session SessionConfig `yaml:"session"`

	// Wake holds the background wake broadcast settings.
	Wake WakeConfig `yaml:"wake"`

	// TfL holds the upstream BikePoint API settings.
	TfL TfLConfig `yaml:"tfl"`

	// APNs holds the push gateway credentials. Leave the whole section
	// empty to run without real pushes (they are logged instead).
	APNs APNsConfig `yaml:"apns"`

	// Storage holds the embedded database settings.
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`
}

// PollConfig holds the dock polling settings.
type PollConfig struct {
	// Interval is the time between polls of a dock with live sessions.
	// Defaults to 30s, minimum 5s.
	Interval Duration `yaml:"interval"`

	// FetchTimeout is the per-fetch upstream timeout. Defaults to 10s.
	FetchTimeout Duration `yaml:"fetch_timeout"`
}

// SessionConfig holds the session expiry policy.
type SessionConfig struct {
	// DefaultExpiry applies when a start request declares no expiry.
	// Defaults to 1h.
	DefaultExpiry Duration `yaml:"default_expiry"`

	// MaxWindow is the server-side ceiling on any session's lifetime,
	// regardless of what the client requests. Defaults to 2h, which is
	// also the absolute maximum.
	MaxWindow Duration `yaml:"max_window"`
}

// WakeConfig holds the background wake broadcast settings.
type WakeConfig struct {
	// Enabled turns the periodic wake broadcast on. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	// Interval is the time between wake rounds. Defaults to 15m,
	// minimum 1m.
	Interval Duration `yaml:"interval"`
}

// TfLConfig holds the upstream BikePoint API settings.
type TfLConfig struct {
	// BaseURL overrides the TfL API base URL. Defaults to the public
	// endpoint. Supports environment variable substitution:
	// ${VAR} or ${VAR:-default}
	BaseURL string `yaml:"base_url"`

	// AppKey is the TfL API application key, sent with every request
	// when set. Supports environment variable substitution.
	AppKey string `yaml:"app_key"`

	// Timeout is the HTTP client timeout for upstream requests.
	// Defaults to 10s.
	Timeout Duration `yaml:"timeout"`
}

// APNsConfig holds the push gateway credentials.
//
// The four credential fields must be set together or not at all. When
// absent, the service runs with a logging no-op dispatcher, which is
// useful for local development.
type APNsConfig struct {
	// KeyFile is the path to the .p8 provider signing key.
	// Supports environment variable substitution.
	KeyFile string `yaml:"key_file"`

	// KeyID is the 10-character APNs signing key id.
	// Supports environment variable substitution.
	KeyID string `yaml:"key_id"`

	// TeamID is the Apple developer team id.
	// Supports environment variable substitution.
	TeamID string `yaml:"team_id"`

	// BundleID is the app bundle id pushes are addressed to.
	// Supports environment variable substitution.
	BundleID string `yaml:"bundle_id"`

	// PushTimeout is the per-send timeout. Defaults to 10s.
	PushTimeout Duration `yaml:"push_timeout"`

	// ProductionHost overrides the production gateway host.
	// Intended for tests.
	ProductionHost string `yaml:"production_host"`

	// SandboxHost overrides the sandbox gateway host.
	// Intended for tests.
	SandboxHost string `yaml:"sandbox_host"`
}

// StorageConfig holds the embedded database settings.
type StorageConfig struct {
	// Path is the sqlite database file. Defaults to "borisbikes.db".
	// Supports environment variable substitution.
	Path string `yaml:"path"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Default returns a Config populated with every default value, ready to
// run against the public TfL API with pushes logged rather than sent.
func Default() *Config {
	enabled := true
	return &Config{
		Server:  ServerConfig{Port: 8080},
		Poll:    PollConfig{Interval: Duration(30 * time.Second), FetchTimeout: Duration(10 * time.Second)},
		Session: SessionConfig{DefaultExpiry: Duration(time.Hour), MaxWindow: Duration(maxSessionWindow)},
		Wake:    WakeConfig{Enabled: &enabled, Interval: Duration(15 * time.Minute)},
		TfL:     TfLConfig{Timeout: Duration(10 * time.Second)},
		APNs:    APNsConfig{PushTimeout: Duration(10 * time.Second)},
		Storage: StorageConfig{Path: "borisbikes.db"},
	}
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the TfL, APNs, and storage
// values. Missing settings fall back to [Default] values.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills unset fields from [Default].
func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = def.Poll.Interval
	}
	if c.Poll.FetchTimeout == 0 {
		c.Poll.FetchTimeout = def.Poll.FetchTimeout
	}
	if c.Session.DefaultExpiry == 0 {
		c.Session.DefaultExpiry = def.Session.DefaultExpiry
	}
	if c.Session.MaxWindow == 0 {
		c.Session.MaxWindow = def.Session.MaxWindow
	}
	if c.Wake.Enabled == nil {
		c.Wake.Enabled = def.Wake.Enabled
	}
	if c.Wake.Interval == 0 {
		c.Wake.Interval = def.Wake.Interval
	}
	if c.TfL.Timeout == 0 {
		c.TfL.Timeout = def.TfL.Timeout
	}
	if c.APNs.PushTimeout == 0 {
		c.APNs.PushTimeout = def.APNs.PushTimeout
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Poll.Interval.Duration() < minPollInterval {
		return fmt.Errorf("poll.interval must be at least %s, got %s", minPollInterval, c.Poll.Interval.Duration())
	}
	if c.Poll.FetchTimeout.Duration() < time.Second {
		return fmt.Errorf("poll.fetch_timeout must be at least 1s, got %s", c.Poll.FetchTimeout.Duration())
	}

	if c.Session.DefaultExpiry.Duration() < time.Minute {
		return fmt.Errorf("session.default_expiry must be at least 1m, got %s", c.Session.DefaultExpiry.Duration())
	}
	if c.Session.DefaultExpiry.Duration() > maxSessionWindow {
		return fmt.Errorf("session.default_expiry must not exceed %s, got %s", maxSessionWindow, c.Session.DefaultExpiry.Duration())
	}
	if c.Session.MaxWindow.Duration() < time.Minute {
		return fmt.Errorf("session.max_window must be at least 1m, got %s", c.Session.MaxWindow.Duration())
	}
	if c.Session.MaxWindow.Duration() > maxSessionWindow {
		return fmt.Errorf("session.max_window must not exceed %s, got %s", maxSessionWindow, c.Session.MaxWindow.Duration())
	}

	if *c.Wake.Enabled && c.Wake.Interval.Duration() < minWakeInterval {
		return fmt.Errorf("wake.interval must be at least %s, got %s", minWakeInterval, c.Wake.Interval.Duration())
	}

	if err := c.expandTfL(); err != nil {
		return err
	}
	if c.TfL.Timeout.Duration() < time.Second {
		return fmt.Errorf("tfl.timeout must be at least 1s, got %s", c.TfL.Timeout.Duration())
	}

	if err := c.expandAPNs(); err != nil {
		return err
	}
	if err := c.validateAPNs(); err != nil {
		return err
	}

	expanded, err := expandEnvVars(c.Storage.Path)
	if err != nil {
		return fmt.Errorf("storage.path: %w", err)
	}
	c.Storage.Path = expanded
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

func (c *Config) expandTfL() error {
	expanded, err := expandEnvVars(c.TfL.BaseURL)
	if err != nil {
		return fmt.Errorf("tfl.base_url: %w", err)
	}
	c.TfL.BaseURL = expanded

	if c.TfL.BaseURL != "" {
		parsedURL, err := url.Parse(c.TfL.BaseURL)
		if err != nil {
			return fmt.Errorf("tfl.base_url: invalid url: %w", err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("tfl.base_url scheme must be http or https, got %q", parsedURL.Scheme)
		}
	}

	expanded, err = expandEnvVars(c.TfL.AppKey)
	if err != nil {
		return fmt.Errorf("tfl.app_key: %w", err)
	}
	c.TfL.AppKey = expanded
	return nil
}

func (c *Config) expandAPNs() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"apns.key_file", &c.APNs.KeyFile},
		{"apns.key_id", &c.APNs.KeyID},
		{"apns.team_id", &c.APNs.TeamID},
		{"apns.bundle_id", &c.APNs.BundleID},
		{"apns.production_host", &c.APNs.ProductionHost},
		{"apns.sandbox_host", &c.APNs.SandboxHost},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = expanded
	}
	return nil
}

func (c *Config) validateAPNs() error {
	set := 0
	for _, v := range []string{c.APNs.KeyFile, c.APNs.KeyID, c.APNs.TeamID, c.APNs.BundleID} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 4 {
		return fmt.Errorf("apns requires key_file, key_id, team_id, and bundle_id together (or none for a push-less run)")
	}
	if set > 0 && c.APNs.PushTimeout.Duration() < time.Second {
		return fmt.Errorf("apns.push_timeout must be at least 1s, got %s", c.APNs.PushTimeout.Duration())
	}
	return nil
}

// PushConfigured reports whether the APNs credential set is present.
func (c *Config) PushConfigured() bool {
	return c.APNs.KeyFile != "" && c.APNs.KeyID != "" && c.APNs.TeamID != "" && c.APNs.BundleID != ""
}
