package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	borisbikes "github.com/mwagstaff/my-boris-bikes-sub000"
	"github.com/mwagstaff/my-boris-bikes-sub000/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// parseLogLevel maps the --log-level flag onto a slog level.
func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (use debug, info, warn, or error)", s)
}

// serveCmd runs the polling and push service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the polling and push service",
	Long: `Run the borisbikes service.

The service will:
  - Load configuration from the specified YAML file
  - Poll the TfL BikePoint API for every watched dock
  - Push state updates and alerts to subscribed devices
  - Serve the HTTP API on the configured port

The service runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  borisbikes serve -c config.yaml
  borisbikes serve --config /etc/borisbikes/config.yaml --env-file /etc/borisbikes/secrets.env`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
	serveCmd.Flags().String("env-file", "", "load environment variables from this file before reading config")
	serveCmd.Flags().String("log-level", "info", "log level: debug, info, warn, or error")
}

func runServe(cmd *cobra.Command, args []string) error {
	levelStr, _ := cmd.Flags().GetString("log-level")
	level, err := parseLogLevel(levelStr)
	if err != nil {
		return err
	}
	logger := newLogger(level)

	// an explicit env file must load; the default .env is best-effort
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := godotenv.Load(); err == nil {
		logger.Debug("loaded environment from .env")
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"port", cfg.Server.Port,
		"poll_interval", cfg.Poll.Interval.Duration().String(),
		"wake_enabled", *cfg.Wake.Enabled,
		"push_configured", cfg.PushConfigured(),
	)

	opts := config.Build(cfg)
	opts = append(opts, borisbikes.WithLogger(logger))

	svc, err := borisbikes.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start service - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Start(ctx)
	}()

	// wait for the service to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
