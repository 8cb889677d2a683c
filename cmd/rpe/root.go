package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/rpe/internal/config"
	"github.com/yairfalse/rpe/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	logLevel   string
	logFormat  string

	// cfg is loaded before any subcommand runs
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "rpe",
		Short: "Resource policy evaluation for Google Cloud",
		Long: `rpe - Resource Policy Evaluation

rpe turns audit logs and asset inventory records into canonical Google Cloud
resources, evaluates them against compliance policies written in Go or Rego,
and optionally remediates the findings.

Run it once against a payload, scan an organization, or serve continuously
from a Pub/Sub subscription.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`rpe {{.Version}} - Resource Policy Evaluation
`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console, json")
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	cfg = loaded

	return setupLogging(cfg.Log.Level, logFormat)
}

func setupLogging(level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	switch format {
	case "console":
		telemetry.Output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	case "json":
		telemetry.Output = os.Stderr
	default:
		return fmt.Errorf("invalid log format %q (must be console or json)", format)
	}
	log.Logger = log.Output(telemetry.Output)
	return nil
}
