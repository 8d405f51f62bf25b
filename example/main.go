package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	borisbikes "github.com/mwagstaff/my-boris-bikes-sub000"
)

func main() {
	// start mock TfL server (see mock_server.go)
	go StartMockBikePointServer(":9321")
	time.Sleep(100 * time.Millisecond)

	// no APNs credentials: pushes are logged instead of sent, so the
	// whole loop is observable from the terminal
	svc, err := borisbikes.New(
		borisbikes.WithTfLBaseURL("http://localhost:9321"),
		borisbikes.WithPort(8080),
		borisbikes.WithPollInterval(5*time.Second),
		borisbikes.WithStoragePath(filepath.Join(os.TempDir(), "borisbikes-demo.db")),
	)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                           ║")
	fmt.Println("  ║   Borisbikes Demo                                         ║")
	fmt.Println("  ║                                                           ║")
	fmt.Println("  ║   API on http://localhost:8080                            ║")
	fmt.Println("  ║   Mock TfL BikePoint API on :9321 (counters drift)        ║")
	fmt.Println("  ║                                                           ║")
	fmt.Println("  ║   Watch a dock:                                           ║")
	fmt.Println("  ║   curl -X POST localhost:8080/api/activity/start \\        ║")
	fmt.Println("  ║     -d '{\"dock_id\": \"BikePoints_42\",                      ║")
	fmt.Println("  ║          \"push_token\": \"demo-token\",                      ║")
	fmt.Println("  ║          \"minimum_thresholds\": {\"bikes\": 3}}'             ║")
	fmt.Println("  ║                                                           ║")
	fmt.Println("  ║   Pushes appear in the logs as the mock counters drift.   ║")
	fmt.Println("  ║                                                           ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                    ║")
	fmt.Println("  ║                                                           ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		slog.Error("borisbikes error", "error", err)
		os.Exit(1)
	}
}
