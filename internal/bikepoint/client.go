package bikepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the TfL Unified API root.
const DefaultBaseURL = "https://api.tfl.gov.uk"

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion when many docks
// are polled concurrently
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
	defaultFetchTimeout        = 10 * time.Second
)

// ErrDockNotFound is returned by [Client.Dock] when TfL reports no
// BikePoint with the requested id.
var ErrDockNotFound = errors.New("bike point not found")

// Client fetches dock availability from the TfL BikePoint API.
//
// Timeouts are applied per-request via context rather than as a global
// client timeout, and response bodies are limited to 1MB. The zero value
// is not usable; construct with [NewClient].
type Client struct {
	httpClient *http.Client
	baseURL    string
	appKey     string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewClient creates a TfL BikePoint [Client].
//
// baseURL falls back to [DefaultBaseURL] when empty. appKey is optional;
// when set it is sent as the app_key query parameter (anonymous access is
// rate-limited more aggressively by TfL). timeout bounds each fetch and
// falls back to 10 seconds when non-positive.
func NewClient(baseURL, appKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			// no default timeout - per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableKeepAlives:   false,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		appKey:  appKey,
		timeout: timeout,
		logger:  logger,
	}
}

// tflBikePoint is the slice of the TfL Place document we consume. The
// availability counters arrive as stringly-typed key/value pairs in
// additionalProperties.
type tflBikePoint struct {
	ID                   string        `json:"id"`
	CommonName           string        `json:"commonName"`
	AdditionalProperties []tflProperty `json:"additionalProperties"`
}

type tflProperty struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Dock fetches the current state of a single dock.
//
// The request is bounded by the client's timeout via context cancellation.
// A 404 from TfL is reported as [ErrDockNotFound]; other non-2xx statuses
// and transport failures are returned as errors with the dock id attached.
func (c *Client) Dock(ctx context.Context, id string) (DockState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + "/BikePoint/" + url.PathEscape(id)
	if c.appKey != "" {
		reqURL += "?app_key=" + url.QueryEscape(c.appKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return DockState{}, fmt.Errorf("bike point %s: failed to create request: %w", id, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DockState{}, fmt.Errorf("bike point %s: request failed: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return DockState{}, fmt.Errorf("bike point %s: failed to read response body: %w", id, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return DockState{}, fmt.Errorf("bike point %s: %w", id, ErrDockNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return DockState{}, fmt.Errorf("bike point %s: unexpected status %d", id, resp.StatusCode)
	}

	state, err := decodeDockState(body)
	if err != nil {
		return DockState{}, fmt.Errorf("bike point %s: %w", id, err)
	}

	c.logger.Debug("fetched bike point",
		"dock", id,
		"bikes", state.Bikes,
		"ebikes", state.EBikes,
		"docks", state.Docks,
		"latency_ms", time.Since(start).Milliseconds())

	return state, nil
}

// decodeDockState parses a TfL BikePoint document into a DockState.
//
// The standard/e-bike split (NbStandardBikes/NbEBikes) is preferred; when
// TfL omits it, the total NbBikes minus e-bikes is used instead. Counter
// values that fail to parse are treated as absent rather than failing the
// whole observation.
func decodeDockState(body []byte) (DockState, error) {
	var doc tflBikePoint
	if err := json.Unmarshal(body, &doc); err != nil {
		return DockState{}, fmt.Errorf("failed to decode response: %w", err)
	}

	var (
		standard, total, ebikes, empty int
		haveStandard, haveTotal        bool
	)
	for _, p := range doc.AdditionalProperties {
		n, err := strconv.Atoi(strings.TrimSpace(p.Value))
		if err != nil || n < 0 {
			continue
		}
		switch p.Key {
		case "NbStandardBikes":
			standard, haveStandard = n, true
		case "NbBikes":
			total, haveTotal = n, true
		case "NbEBikes":
			ebikes = n
		case "NbEmptyDocks":
			empty = n
		}
	}

	bikes := standard
	if !haveStandard && haveTotal {
		bikes = total - ebikes
		if bikes < 0 {
			bikes = 0
		}
	}

	return DockState{
		Counts: Counts{
			Bikes:  bikes,
			EBikes: ebikes,
			Docks:  empty,
		},
		Name:      doc.CommonName,
		FetchedAt: time.Now(),
	}, nil
}

// Close closes idle connections in the client's pool. Safe to call more
// than once; the client remains usable afterwards.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
