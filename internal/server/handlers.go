package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/activity"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/override"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/push"
)

type startRequest struct {
	DockID                string                `json:"dock_id"`
	PushToken             string                `json:"push_token"`
	Environment           string                `json:"environment"`
	DeclaredExpirySeconds int                   `json:"declared_expiry_seconds"`
	PrimaryMetric         string                `json:"primary_metric"`
	MinimumThresholds     map[string]int        `json:"minimum_thresholds"`
	Alternates            []bikepoint.Alternate `json:"alternates"`
	DeviceToken           string                `json:"device_token"`
	DisplayName           string                `json:"display_name"`
}

type updateRequest struct {
	DockID            string         `json:"dock_id"`
	PushToken         string         `json:"push_token"`
	PrimaryMetric     *string        `json:"primary_metric"`
	MinimumThresholds map[string]int `json:"minimum_thresholds"`
	DisplayName       *string        `json:"display_name"`
	DeviceToken       *string        `json:"device_token"`
}

type endRequest struct {
	DockID    string `json:"dock_id"`
	PushToken string `json:"push_token"`
}

type deviceRequest struct {
	DeviceToken string `json:"device_token"`
	Environment string `json:"environment"`
}

type overrideRequest struct {
	DockID string `json:"dock_id"`
	Bikes  int    `json:"bikes"`
	EBikes int    `json:"ebikes"`
	Docks  int    `json:"docks"`
}

type subscriptionSummary struct {
	DockID           string    `json:"dock_id"`
	DisplayName      string    `json:"display_name,omitempty"`
	PrimaryMetric    string    `json:"primary_metric"`
	MinimumThreshold int       `json:"minimum_threshold"`
	StartedAt        time.Time `json:"started_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type dockEntry struct {
	DockID     string `json:"dock_id"`
	Name       string `json:"name,omitempty"`
	Bikes      int    `json:"bikes"`
	EBikes     int    `json:"ebikes"`
	Docks      int    `json:"docks"`
	Overridden bool   `json:"overridden,omitempty"`
	Error      string `json:"error,omitempty"`
}

// handleActivityStart registers a live activity session for a dock.
func (s *Server) handleActivityStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req startRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.DockID == "" || req.PushToken == "" {
		writeError(w, http.StatusBadRequest, "dock_id and push_token are required")
		return
	}
	if req.DeclaredExpirySeconds < 0 {
		writeError(w, http.StatusBadRequest, "declared_expiry_seconds must be non-negative")
		return
	}

	env, err := parseEnvironment(req.Environment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metric, err := parseMetric(req.PrimaryMetric)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	thresholds, err := parseThresholds(req.MinimumThresholds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateAlternates(req.Alternates); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := s.registry.Start(activity.StartParams{
		DockID:         req.DockID,
		PushToken:      req.PushToken,
		Environment:    env,
		DeclaredExpiry: time.Duration(req.DeclaredExpirySeconds) * time.Second,
		PrimaryMetric:  metric,
		Thresholds:     thresholds,
		Alternates:     req.Alternates,
		DeviceToken:    req.DeviceToken,
		DisplayName:    req.DisplayName,
	})
	if errors.Is(err, activity.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"effective_expiry_seconds": int(sub.ExpiresAt().Sub(sub.StartedAt) / time.Second),
	})
}

// handleActivityUpdate changes a session's alerting parameters in place.
func (s *Server) handleActivityUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req updateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.DockID == "" || req.PushToken == "" {
		writeError(w, http.StatusBadRequest, "dock_id and push_token are required")
		return
	}

	params := activity.UpdateParams{
		DisplayName: req.DisplayName,
		DeviceToken: req.DeviceToken,
	}
	if req.PrimaryMetric != nil {
		metric, err := bikepoint.ParseMetric(*req.PrimaryMetric)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.PrimaryMetric = &metric
	}
	thresholds, err := parseThresholds(req.MinimumThresholds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params.Thresholds = thresholds

	sub, err := s.registry.Update(req.DockID, req.PushToken, params)
	if errors.Is(err, activity.ErrNotFound) {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"primary_metric":    sub.PrimaryMetric.String(),
		"minimum_threshold": sub.Threshold(),
	})
}

// handleActivityEnd removes a session and tears down its poller if it
// was the last one.
func (s *Server) handleActivityEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req endRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.DockID == "" || req.PushToken == "" {
		writeError(w, http.StatusBadRequest, "dock_id and push_token are required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{
		"ended": s.registry.End(req.DockID, req.PushToken),
	})
}

// handleDeviceStatus reports whether a device has any live session, and
// summarizes the most recent one.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := r.URL.Query().Get("device_token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "device_token is required")
		return
	}
	if env := r.URL.Query().Get("environment"); env != "" {
		if _, err := push.ParseEnvironment(env); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	subs := s.registry.ListForDevice(token)
	resp := map[string]any{"active": len(subs) > 0}
	if len(subs) > 0 {
		latest := subs[0]
		resp["subscription"] = subscriptionSummary{
			DockID:           latest.DockID,
			DisplayName:      latest.DisplayName,
			PrimaryMetric:    latest.PrimaryMetric.String(),
			MinimumThreshold: latest.Threshold(),
			StartedAt:        latest.StartedAt,
			ExpiresAt:        latest.ExpiresAt(),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeviceRegister adds a device to the wake roster.
func (s *Server) handleDeviceRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.wake == nil {
		writeError(w, http.StatusServiceUnavailable, "wake registry disabled")
		return
	}

	var req deviceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceToken == "" {
		writeError(w, http.StatusBadRequest, "device_token is required")
		return
	}
	env, err := parseEnvironment(req.Environment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dev, err := s.wake.Register(r.Context(), req.DeviceToken, env)
	if err != nil {
		s.logger.Error("device registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceUnregister removes a device from the wake roster.
func (s *Server) handleDeviceUnregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.wake == nil {
		writeError(w, http.StatusServiceUnavailable, "wake registry disabled")
		return
	}

	var req deviceRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceToken == "" {
		writeError(w, http.StatusBadRequest, "device_token is required")
		return
	}

	removed, err := s.wake.Unregister(r.Context(), req.DeviceToken)
	if err != nil {
		s.logger.Error("device unregistration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to unregister device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// handleOverrides lists, sets, or clears dock counter overrides.
func (s *Server) handleOverrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.overrides.List(r.Context())
		if err != nil {
			s.logger.Error("override listing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list overrides")
			return
		}
		if list == nil {
			list = []override.Override{}
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var req overrideRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		if req.DockID == "" {
			writeError(w, http.StatusBadRequest, "dock_id is required")
			return
		}
		if req.Bikes < 0 || req.EBikes < 0 || req.Docks < 0 {
			writeError(w, http.StatusBadRequest, "counters must be non-negative")
			return
		}

		ov, err := s.overrides.Set(r.Context(), req.DockID, bikepoint.Counts{
			Bikes:  req.Bikes,
			EBikes: req.EBikes,
			Docks:  req.Docks,
		})
		if err != nil {
			s.logger.Error("override write failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to set override")
			return
		}
		s.logger.Info("override set", "dock", req.DockID,
			"bikes", req.Bikes, "ebikes", req.EBikes, "docks", req.Docks)
		writeJSON(w, http.StatusOK, ov)

	case http.MethodDelete:
		dockID := r.URL.Query().Get("dock_id")
		if dockID == "" {
			writeError(w, http.StatusBadRequest, "dock_id is required")
			return
		}
		cleared, err := s.overrides.Clear(r.Context(), dockID)
		if err != nil {
			s.logger.Error("override clear failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to clear override")
			return
		}
		if cleared {
			s.logger.Info("override cleared", "dock", dockID)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleDocks serves a bulk dock listing, fetched concurrently with
// overrides applied the same way the pollers apply them.
func (s *Server) handleDocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := r.URL.Query().Get("ids")
	ids := make([]string, 0)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	if len(ids) > maxBulkDocks {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d ids allowed", maxBulkDocks))
		return
	}

	entries := s.listDocks(r.Context(), ids)
	writeJSON(w, http.StatusOK, entries)
}

// listDocks fetches the requested docks over a bounded worker pool and
// substitutes any active override per dock.
func (s *Server) listDocks(ctx context.Context, ids []string) []dockEntry {
	entries := make([]dockEntry, len(ids))
	jobs := make(chan int, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < bulkConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				entries[idx] = s.readDock(ctx, ids[idx])
			}
		}()
	}
	for idx := range ids {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	return entries
}

func (s *Server) readDock(ctx context.Context, id string) dockEntry {
	entry := dockEntry{DockID: id}

	state, err := s.docks.Dock(ctx, id)
	switch {
	case errors.Is(err, bikepoint.ErrDockNotFound):
		entry.Error = "unknown dock"
		return entry
	case err != nil:
		entry.Error = "upstream unavailable"
		return entry
	}

	counts := state.Counts
	if s.overrides != nil {
		if forced, ok := s.overrides.Counters(id); ok {
			counts = forced
			entry.Overridden = true
		}
	}

	entry.Name = state.Name
	entry.Bikes = counts.Bikes
	entry.EBikes = counts.EBikes
	entry.Docks = counts.Docks
	return entry
}

// handleHealth reports liveness and headline engine gauges.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	docks, sessions := s.registry.Stats()
	var wakeDevices int64
	if s.wake != nil {
		n, err := s.wake.Count(r.Context())
		if err != nil {
			s.logger.Warn("wake roster count failed", "error", err)
		} else {
			wakeDevices = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_docks":    docks,
		"active_sessions": sessions,
		"wake_devices":    wakeDevices,
	})
}

// decodeJSON reads a capped JSON body into dst, answering 400 on any
// decode failure. Returns false when the request has been answered.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// parseEnvironment validates a wire environment, defaulting to
// production when absent.
func parseEnvironment(s string) (push.Environment, error) {
	if s == "" {
		return push.EnvProduction, nil
	}
	return push.ParseEnvironment(s)
}

// parseMetric validates a wire metric, defaulting to bikes when absent.
func parseMetric(s string) (bikepoint.Metric, error) {
	if s == "" {
		return bikepoint.MetricBikes, nil
	}
	return bikepoint.ParseMetric(s)
}

func parseThresholds(in map[string]int) (map[bikepoint.Metric]int, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[bikepoint.Metric]int, len(in))
	for k, v := range in {
		m, err := bikepoint.ParseMetric(k)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, fmt.Errorf("threshold for %s must be non-negative", k)
		}
		out[m] = v
	}
	return out, nil
}

func validateAlternates(alts []bikepoint.Alternate) error {
	if len(alts) > bikepoint.MaxAlternates {
		return fmt.Errorf("at most %d alternates allowed", bikepoint.MaxAlternates)
	}
	for _, alt := range alts {
		if alt.Bikes < 0 || alt.EBikes < 0 || alt.Docks < 0 {
			return errors.New("alternate counters must be non-negative")
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
