package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// mockDock tracks the simulated counters and next drift time for one dock.
type mockDock struct {
	bikes        int
	ebikes       int
	docks        int
	nextChangeAt time.Time
}

// drift moves one bike in or out so pollers see real changes.
func (d *mockDock) drift() {
	if rand.Intn(2) == 0 && d.bikes > 0 {
		d.bikes--
		d.docks++
	} else if d.docks > 0 {
		d.bikes++
		d.docks--
	}
}

// StartMockBikePointServer runs a mock of the TfL BikePoint endpoint. Dock
// counters drift every 15-45 seconds so subscriptions receive pushes.
// Call this in a goroutine before starting the service.
func StartMockBikePointServer(addr string) {
	var (
		docks = make(map[string]*mockDock)
		mu    sync.Mutex
	)

	http.HandleFunc("/BikePoint/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/BikePoint/")
		if id == "" {
			http.NotFound(w, r)
			return
		}

		mu.Lock()
		d, exists := docks[id]
		if !exists {
			// seed a plausible dock on first sight
			d = &mockDock{
				bikes:        3 + rand.Intn(8),
				ebikes:       rand.Intn(4),
				docks:        5 + rand.Intn(10),
				nextChangeAt: time.Now().Add(time.Duration(15+rand.Intn(31)) * time.Second),
			}
			docks[id] = d
		}

		if time.Now().After(d.nextChangeAt) {
			d.drift()
			d.nextChangeAt = time.Now().Add(time.Duration(15+rand.Intn(31)) * time.Second)
			slog.Info("dock drift", "dock", id, "bikes", d.bikes, "ebikes", d.ebikes, "docks", d.docks)
		}
		bikes, ebikes, empty := d.bikes, d.ebikes, d.docks
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":         id,
			"commonName": "Mock Dock " + id,
			"additionalProperties": []map[string]string{
				{"key": "NbStandardBikes", "value": strconv.Itoa(bikes)},
				{"key": "NbEBikes", "value": strconv.Itoa(ebikes)},
				{"key": "NbEmptyDocks", "value": strconv.Itoa(empty)},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
