package main

import (
	"fmt"

	"github.com/mwagstaff/my-boris-bikes-sub000/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the service.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a borisbikes configuration file without starting the service.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  borisbikes validate -c config.yaml
  borisbikes validate --config /etc/borisbikes/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:          %d\n", cfg.Server.Port)
	fmt.Printf("  Poll interval: %s\n", cfg.Poll.Interval.Duration())
	fmt.Printf("  Session:       expiry %s, hard window %s\n",
		cfg.Session.DefaultExpiry.Duration(), cfg.Session.MaxWindow.Duration())
	if *cfg.Wake.Enabled {
		fmt.Printf("  Wake:          every %s\n", cfg.Wake.Interval.Duration())
	} else {
		fmt.Printf("  Wake:          disabled\n")
	}
	fmt.Printf("  TfL:           %s\n", tflSummary(cfg))
	fmt.Printf("  Push:          %s\n", pushSummary(cfg))
	fmt.Printf("  Storage:       %s\n", cfg.Storage.Path)

	return nil
}

func tflSummary(cfg *config.Config) string {
	base := "default base URL"
	if cfg.TfL.BaseURL != "" {
		base = cfg.TfL.BaseURL
	}
	key := "anonymous"
	if cfg.TfL.AppKey != "" {
		key = "app key set"
	}
	return base + ", " + key
}

func pushSummary(cfg *config.Config) string {
	if cfg.PushConfigured() {
		return fmt.Sprintf("APNs configured for %s", cfg.APNs.BundleID)
	}
	return "disabled (no APNs credentials)"
}
