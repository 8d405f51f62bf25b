package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/activity"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/override"
	"github.com/mwagstaff/my-boris-bikes-sub000/internal/wake"
)

const (
	// maxRequestBody caps JSON request bodies.
	maxRequestBody = 64 << 10

	// maxBulkDocks caps the ids accepted by the bulk dock listing.
	maxBulkDocks = 20

	// bulkConcurrency bounds concurrent upstream fetches for one bulk
	// listing request.
	bulkConcurrency = 4
)

// Server handles HTTP requests for the session, device, and override API.
//
// All endpoints live under /api. Request bodies are JSON and are fully
// validated here; nothing malformed reaches the engine.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	registry   *activity.Registry
	wake       *wake.Store
	overrides  *override.Store
	docks      activity.StateFetcher
	port       int
	addr       string
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - registry: The session registry the activity endpoints drive
//   - wakeStore: Wake device roster (may be nil when wakes are disabled)
//   - overrides: Override store backing the /api/overrides endpoints
//   - docks: Upstream dock reader for the bulk listing endpoint
//   - port: TCP port to listen on (0 lets the OS choose)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(registry *activity.Registry, wakeStore *wake.Store, overrides *override.Store, docks activity.StateFetcher, port int, logger *slog.Logger) *Server {
	return &Server{
		registry:  registry,
		wake:      wakeStore,
		overrides: overrides,
		docks:     docks,
		port:      port,
		logger:    logger,
	}
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the
// server is listening. The server runs until the context is cancelled,
// at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/activity/start", s.handleActivityStart)
	mux.HandleFunc("/api/activity/update", s.handleActivityUpdate)
	mux.HandleFunc("/api/activity/end", s.handleActivityEnd)
	mux.HandleFunc("/api/device/status", s.handleDeviceStatus)
	mux.HandleFunc("/api/device/register", s.handleDeviceRegister)
	mux.HandleFunc("/api/device/unregister", s.handleDeviceUnregister)
	mux.HandleFunc("/api/overrides", s.handleOverrides)
	mux.HandleFunc("/api/docks", s.handleDocks)
	mux.HandleFunc("/api/health", s.handleHealth)

	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}
	s.addr = ln.Addr().String()

	s.httpServer = &http.Server{
		Handler: mux,
		// BaseContext derives all request contexts from the server
		// context, so cancelling ctx also cancels in-flight handlers.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address. Valid only after a successful
// [Server.Start]; useful when the server was started on port 0.
func (s *Server) Addr() string {
	return s.addr
}
