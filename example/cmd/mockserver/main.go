// Standalone mock BikePoint server for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/borisbikes serve -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

func main() {
	fmt.Println("Mock BikePoint server starting on :9321")
	fmt.Println("Dock counters drift every 15-45 seconds")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

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
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         id,
			"commonName": "Mock Dock " + id,
			"additionalProperties": []map[string]string{
				{"key": "NbStandardBikes", "value": strconv.Itoa(bikes)},
				{"key": "NbEBikes", "value": strconv.Itoa(ebikes)},
				{"key": "NbEmptyDocks", "value": strconv.Itoa(empty)},
			},
		})
	})

	if err := http.ListenAndServe(":9321", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type mockDock struct {
	bikes        int
	ebikes       int
	docks        int
	nextChangeAt time.Time
}

func (d *mockDock) drift() {
	if rand.Intn(2) == 0 && d.bikes > 0 {
		d.bikes--
		d.docks++
	} else if d.docks > 0 {
		d.bikes++
		d.docks--
	}
}
