package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/rpe/extractor"
	"github.com/yairfalse/rpe/internal/daemon"
	"github.com/yairfalse/rpe/internal/emitter"
	"github.com/yairfalse/rpe/internal/filter"
	otelprovider "github.com/yairfalse/rpe/internal/telemetry"
	"github.com/yairfalse/rpe/policy"
	"github.com/yairfalse/rpe/scanner"
	"github.com/yairfalse/rpe/telemetry"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Evaluate resources continuously from Pub/Sub and periodic scans",
	Long: `Run as a daemon. Messages pulled from pubsub.subscription are extracted
and evaluated as they arrive; with scan.interval set the asset inventory under
scan.parent is evaluated on a schedule as well.

Metrics, /healthz, /-/healthy and /-/ready are served on metrics.addr.`,
	Example: `  rpe serve -c rpe.yaml
  rpe serve -c rpe.yaml --log-format json`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewLogger("serve")

	provider, err := otelprovider.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	if err := a.loadEngines(ctx); err != nil {
		return err
	}

	emit, err := a.serveEmitters()
	if err != nil {
		return err
	}
	defer func() { _ = emit.Close() }()

	opts := []daemon.Option{
		daemon.WithRecorder(provider),
		daemon.WithMetricsHandler(provider.Handler()),
	}

	if cfg.PubSub.Subscription != "" {
		if err := cfg.RequireSubscription(); err != nil {
			return err
		}
		inner, err := a.extractor(cfg.PubSub.Extractor)
		if err != nil {
			return err
		}
		src, err := daemon.NewPubSubSource(ctx, cfg.PubSub)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		opts = append(opts, daemon.WithSource(src, extractor.NewQueue(inner)))
	}

	if cfg.Scan.Interval > 0 {
		if cfg.Scan.Parent == "" {
			return errors.New("scan.parent is required when scan.interval is set")
		}
		lister, err := scanner.NewInventoryLister(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = lister.Close() }()
		opts = append(opts, daemon.WithScanner(scanner.New(lister, a.registry, cfg.Scan)))
	}

	d, err := daemon.NewDaemon(daemon.Config{
		MetricsAddr:  cfg.Metrics.Addr,
		ScanInterval: cfg.Scan.Interval,
		Filter:       filter.New(cfg.Scan),
	}, policy.NewRunner(cfg.Workers), a.engines, emit, opts...)
	if err != nil {
		return err
	}

	logger.Info().
		Str("subscription", cfg.PubSub.Subscription).
		Str("scan_parent", cfg.Scan.Parent).
		Dur("scan_interval", cfg.Scan.Interval).
		Int("engines", len(a.engines)).
		Msg("daemon starting")

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("daemon stopped")
	return nil
}

// serveEmitters is the daemon emitter chain: the one-shot chain plus
// Prometheus finding metrics.
func (a *app) serveEmitters() (emitter.Emitter, error) {
	prom, err := emitter.NewPrometheusEmitter()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus emitter: %w", err)
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	emitters := []emitter.Emitter{emitter.NewLogEmitter(nil), prom}
	if store != nil {
		emitters = append(emitters, emitter.NewStoreEmitter(store))
	}
	return emitter.NewMultiEmitter(emitters...), nil
}
