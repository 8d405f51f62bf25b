package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
)

const (
	defaultSendTimeout = 5 * time.Second

	// how long the APNs connection may sit idle before a health-check
	// ping, and how long to wait for the pong
	readIdleTimeout = 15 * time.Second
	pingTimeout     = 5 * time.Second

	maxErrorBodySize = 4 << 10
)

// Config configures a [Dispatcher].
type Config struct {
	// KeyPEM is the contents of the .p8 APNs signing key.
	KeyPEM []byte

	// KeyID is the 10-character id of the signing key.
	KeyID string

	// TeamID is the Apple developer team id the key belongs to.
	TeamID string

	// BundleID is the app's bundle identifier, used to derive the
	// apns-topic for each push kind.
	BundleID string

	// Timeout bounds each send. Defaults to 5 seconds.
	Timeout time.Duration

	// ProductionHost and SandboxHost override the gateway hosts,
	// mainly for tests pointing at a local server. A bare host is
	// dialled over https.
	ProductionHost string
	SandboxHost    string

	// Client overrides the HTTP client. When nil an HTTP/2 client with
	// idle-connection health pings is used, as the gateway expects
	// long-lived connections.
	Client *http.Client

	Logger *slog.Logger
}

// Dispatcher sends pushes to the per-environment APNs gateways.
//
// One dispatcher serves both environments; routing is decided per send by
// the payload's environment, never by dispatcher identity. Construct with
// [NewDispatcher].
type Dispatcher struct {
	client   *http.Client
	token    *providerToken
	bundleID string
	hosts    map[Environment]string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a [Dispatcher] from cfg.
//
// The signing key, key id, team id, and bundle id are required; the key
// is parsed eagerly so a bad credential fails at startup rather than on
// the first push.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if len(cfg.KeyPEM) == 0 {
		return nil, errors.New("push: signing key is required")
	}
	if cfg.KeyID == "" {
		return nil, errors.New("push: key id is required")
	}
	if cfg.TeamID == "" {
		return nil, errors.New("push: team id is required")
	}
	if cfg.BundleID == "" {
		return nil, errors.New("push: bundle id is required")
	}

	token, err := newProviderToken(cfg.KeyPEM, cfg.KeyID, cfg.TeamID)
	if err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http2.Transport{
				ReadIdleTimeout: readIdleTimeout,
				PingTimeout:     pingTimeout,
			},
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	production := cfg.ProductionHost
	if production == "" {
		production = DefaultProductionHost
	}
	sandbox := cfg.SandboxHost
	if sandbox == "" {
		sandbox = DefaultSandboxHost
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		client:   client,
		token:    token,
		bundleID: cfg.BundleID,
		hosts: map[Environment]string{
			EnvProduction: production,
			EnvSandbox:    sandbox,
		},
		timeout: timeout,
		logger:  logger,
	}, nil
}

// liveActivityState is the content-state rendered by the remote card.
type liveActivityState struct {
	bikepoint.Counts
	Name       string                `json:"name,omitempty"`
	UpdatedAt  int64                 `json:"updated_at"`
	Alternates []bikepoint.Alternate `json:"alternates,omitempty"`
}

// SendStateUpdate pushes new card content to a subscription's Live
// Activity channel. An end event additionally instructs the device to
// dismiss the card immediately.
func (d *Dispatcher) SendStateUpdate(ctx context.Context, u StateUpdate) Result {
	now := time.Now()
	aps := map[string]any{
		"timestamp": now.Unix(),
		"event":     string(u.Event),
		"content-state": liveActivityState{
			Counts:     u.State.Counts,
			Name:       u.State.Name,
			UpdatedAt:  now.Unix(),
			Alternates: u.Alternates,
		},
	}
	if u.Event == EventEnd {
		aps["dismissal-date"] = now.Unix()
	}

	headers := map[string]string{
		"apns-push-type": "liveactivity",
		"apns-topic":     d.bundleID + ".push-type.liveactivity",
		"apns-priority":  "10",
	}
	return d.send(ctx, "state-update", u.Environment, u.Token, headers, map[string]any{"aps": aps})
}

// SendAlert pushes a user-visible notification to the device's alert
// channel.
func (d *Dispatcher) SendAlert(ctx context.Context, a Alert) Result {
	payload := map[string]any{
		"aps": map[string]any{
			"alert": map[string]any{
				"body": a.Message,
			},
			"sound": "default",
		},
	}
	headers := map[string]string{
		"apns-push-type": "alert",
		"apns-topic":     d.bundleID,
		"apns-priority":  "10",
	}
	return d.send(ctx, "alert", a.Environment, a.DeviceToken, headers, payload)
}

// SendWake pushes a contentless background refresh signal. Low priority,
// zero expiration: the gateway drops it rather than delivering it late.
func (d *Dispatcher) SendWake(ctx context.Context, w Wake) Result {
	payload := map[string]any{
		"aps": map[string]any{
			"content-available": 1,
		},
	}
	headers := map[string]string{
		"apns-push-type":  "background",
		"apns-topic":      d.bundleID,
		"apns-priority":   "5",
		"apns-expiration": "0",
	}
	return d.send(ctx, "wake", w.Environment, w.DeviceToken, headers, payload)
}

// apnsError is the gateway's rejection body.
type apnsError struct {
	Reason string `json:"reason"`
}

func (d *Dispatcher) send(ctx context.Context, kind string, env Environment, token string, headers map[string]string, payload any) Result {
	id := uuid.NewString()

	host, ok := d.hosts[env]
	if !ok {
		return Result{ApnsID: id, Err: fmt.Errorf("unknown environment %q", env)}
	}

	bearer, err := d.token.current()
	if err != nil {
		d.logger.Error("push credential unavailable", "kind", kind, "error", err)
		return Result{ApnsID: id, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{ApnsID: id, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/3/device/"+token, bytes.NewReader(body))
	if err != nil {
		return Result{ApnsID: id, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-id", id)
	req.Header.Set("content-type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("push send failed",
			"kind", kind,
			"environment", env,
			"apns_id", id,
			"error", err)
		return Result{ApnsID: id, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		return Result{Delivered: true, Status: resp.StatusCode, ApnsID: id}
	}

	var gatewayErr apnsError
	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	_ = json.Unmarshal(errBody, &gatewayErr)

	d.logger.Warn("push rejected",
		"kind", kind,
		"environment", env,
		"apns_id", id,
		"status", resp.StatusCode,
		"reason", gatewayErr.Reason)

	return Result{Status: resp.StatusCode, Reason: gatewayErr.Reason, ApnsID: id}
}

// NoopDispatcher satisfies the dispatcher interfaces without talking to
// any gateway. Used when APNs credentials are not configured, so the
// engine can run locally with sends visible only in logs.
type NoopDispatcher struct {
	logger *slog.Logger
}

// NewNoopDispatcher creates a [NoopDispatcher].
func NewNoopDispatcher(logger *slog.Logger) *NoopDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopDispatcher{logger: logger}
}

// SendStateUpdate logs the would-be push and reports delivery.
func (n *NoopDispatcher) SendStateUpdate(ctx context.Context, u StateUpdate) Result {
	n.logger.Info("push disabled, dropping state update",
		"event", u.Event,
		"environment", u.Environment,
		"bikes", u.State.Bikes,
		"ebikes", u.State.EBikes,
		"docks", u.State.Docks)
	return Result{Delivered: true}
}

// SendAlert logs the would-be alert and reports delivery.
func (n *NoopDispatcher) SendAlert(ctx context.Context, a Alert) Result {
	n.logger.Info("push disabled, dropping alert", "environment", a.Environment, "message", a.Message)
	return Result{Delivered: true}
}

// SendWake logs the would-be wake and reports delivery.
func (n *NoopDispatcher) SendWake(ctx context.Context, w Wake) Result {
	n.logger.Info("push disabled, dropping wake", "environment", w.Environment)
	return Result{Delivered: true}
}
