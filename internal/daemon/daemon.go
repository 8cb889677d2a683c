// Package daemon runs continuous evaluation: resources arrive from a queue
// subscription and optionally from periodic asset scans.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oklog/run"

	"github.com/yairfalse/rpe/extractor"
	"github.com/yairfalse/rpe/internal/config"
	"github.com/yairfalse/rpe/internal/emitter"
	"github.com/yairfalse/rpe/internal/filter"
	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
	"github.com/yairfalse/rpe/scanner"
	"github.com/yairfalse/rpe/telemetry"
)

// Message outcomes
const (
	OutcomeAcked   = "acked"
	OutcomeNacked  = "nacked"
	OutcomeDropped = "dropped"
)

const shutdownTimeout = 5 * time.Second

// ExtractionRecorder receives extraction telemetry
type ExtractionRecorder interface {
	RecordExtraction(ctx context.Context, extractor string, resources int, d time.Duration)
	RecordExtractionError(ctx context.Context, extractor, reason string)
}

// Scanner produces resources for a periodic scan
type Scanner interface {
	Scan(ctx context.Context) (*scanner.Result, error)
}

// Config holds daemon configuration
type Config struct {
	// MetricsAddr is the metrics and health listener; empty disables it.
	MetricsAddr  string
	ScanInterval time.Duration
	Filter       *filter.Filter
}

// Option configures optional daemon collaborators
type Option func(*Daemon)

// WithSource consumes messages from src, extracting each with queue
func WithSource(src Source, queue *extractor.Queue) Option {
	return func(d *Daemon) {
		d.source = src
		d.queue = queue
	}
}

// WithScanner runs s every ScanInterval
func WithScanner(s Scanner) Option {
	return func(d *Daemon) { d.scanner = s }
}

// WithRecorder reports extraction telemetry to r
func WithRecorder(r ExtractionRecorder) Option {
	return func(d *Daemon) { d.recorder = r }
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(d *Daemon) { d.metricsHandler = h }
}

// Daemon manages continuous evaluation
type Daemon struct {
	cfg     Config
	runner  *policy.Runner
	engines []policy.Engine
	emitter emitter.Emitter

	source         Source
	queue          *extractor.Queue
	scanner        Scanner
	recorder       ExtractionRecorder
	metricsHandler http.Handler

	metrics *DaemonMetrics
	logger  *telemetry.Logger

	startTime time.Time
	addr      atomic.Value
	processed atomic.Int64
	scans     atomic.Int64
	running   atomic.Bool
}

// NewDaemon creates a new daemon instance. At least one of a source or a
// scanner with a positive interval must be configured.
func NewDaemon(cfg Config, runner *policy.Runner, engines []policy.Engine, emit emitter.Emitter, opts ...Option) (*Daemon, error) {
	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon metrics: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		runner:    runner,
		engines:   engines,
		emitter:   emit,
		metrics:   metrics,
		logger:    telemetry.NewLogger("daemon"),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.cfg.Filter == nil {
		d.cfg.Filter = filter.New(config.ScanConfig{})
	}
	if d.source == nil && (d.scanner == nil || d.cfg.ScanInterval <= 0) {
		return nil, errors.New("daemon needs a message source or a scan interval")
	}
	if d.source != nil && d.queue == nil {
		return nil, errors.New("message source requires a queue extractor")
	}

	return d, nil
}

// Run starts every configured actor and blocks until ctx is cancelled or
// one of them fails. Cancellation is a clean shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	var ln net.Listener
	if d.cfg.MetricsAddr != "" {
		var err error
		ln, err = net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", d.cfg.MetricsAddr, err)
		}
		d.addr.Store(ln.Addr().String())
	}

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			<-ctx.Done()
			return nil
		}, func(error) {
			cancel()
		})
	}

	if d.source != nil {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.source.Receive(ctx, d.handle)
		}, func(error) {
			cancel()
		})
	}

	if d.scanner != nil && d.cfg.ScanInterval > 0 {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.scanLoop(ctx)
		}, func(error) {
			cancel()
		})
	}

	if ln != nil {
		srv := &http.Server{
			Handler:           d.mux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	d.logger.Info().
		Str("metrics_addr", d.MetricsAddr()).
		Bool("subscriber", d.source != nil).
		Dur("scan_interval", d.cfg.ScanInterval).
		Int("engines", len(d.engines)).
		Msg("daemon started")

	d.running.Store(true)
	err := g.Run()
	d.running.Store(false)

	d.logger.Info().
		Int64("messages", d.processed.Load()).
		Int64("scans", d.scans.Load()).
		Msg("daemon stopped")
	return err
}

func (d *Daemon) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.ScanInterval)
	defer ticker.Stop()

	d.runScan(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.runScan(ctx)
		}
	}
}

func (d *Daemon) runScan(ctx context.Context) {
	start := time.Now()
	d.scans.Add(1)

	status := "success"
	if err := d.scan(ctx); err != nil {
		status = "failure"
		if ctx.Err() == nil {
			d.logger.WithContext(ctx).Error().Err(err).Msg("periodic scan failed")
		}
	}
	d.metrics.RecordScan(ctx, status, time.Since(start).Seconds())
}

func (d *Daemon) scan(ctx context.Context) error {
	result, err := d.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	return d.evaluate(ctx, result.Resources, "scan")
}

// handle processes one delivery. Payloads that can never be extracted are
// acknowledged so they are not redelivered; evaluation or emit failures are
// nacked for retry.
func (d *Daemon) handle(ctx context.Context, del Delivery) {
	start := time.Now()
	d.processed.Add(1)

	outcome := d.process(ctx, del.Message)
	if outcome == OutcomeNacked {
		del.Nack()
	} else {
		del.Ack()
	}
	d.metrics.RecordMessage(ctx, outcome, time.Since(start).Seconds())
}

func (d *Daemon) process(ctx context.Context, msg extractor.Message) string {
	log := d.logger.WithContext(ctx)
	name := d.queue.Name()

	start := time.Now()
	out, err := d.queue.ExtractMessage(ctx, msg)
	if err != nil {
		reason := extractionFailure(err)
		d.recordExtractionError(ctx, name, reason)
		log.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Str("reason", reason).
			Msg("message dropped")
		return OutcomeDropped
	}
	d.recordExtraction(ctx, name, len(out.Resources), time.Since(start))

	if err := d.evaluate(ctx, out.Resources, "message"); err != nil {
		log.Error().
			Err(err).
			Str("message_id", msg.ID).
			Msg("message evaluation failed")
		return OutcomeNacked
	}
	return OutcomeAcked
}

// evaluate filters, evaluates and emits resources as one batch
func (d *Daemon) evaluate(ctx context.Context, resources []*resource.Resource, trigger string) error {
	resources = d.cfg.Filter.FilterResources(ctx, resources)
	if len(resources) == 0 {
		return nil
	}

	batch, err := d.runner.Run(ctx, resources, d.engines)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if err := d.emitter.Emit(ctx, batch); err != nil {
		return fmt.Errorf("emit batch %s: %w", batch.ID, err)
	}

	d.metrics.RecordBatchSize(ctx, int64(len(resources)), trigger)
	return nil
}

func (d *Daemon) recordExtraction(ctx context.Context, name string, resources int, elapsed time.Duration) {
	if d.recorder != nil {
		d.recorder.RecordExtraction(ctx, name, resources, elapsed)
	}
}

func (d *Daemon) recordExtractionError(ctx context.Context, name, reason string) {
	if d.recorder != nil {
		d.recorder.RecordExtractionError(ctx, name, reason)
	}
}

func extractionFailure(err error) string {
	var unknown *resource.UnknownTypeError
	var missing *resource.MissingFieldError
	var invalid *resource.InvalidNameError
	switch {
	case errors.Is(err, extractor.ErrNotAuditLog):
		return "not_audit_log"
	case errors.As(err, &unknown):
		return "unknown_type"
	case errors.As(err, &missing):
		return "missing_field"
	case errors.As(err, &invalid):
		return "invalid_name"
	default:
		return "invalid_payload"
	}
}

func (d *Daemon) mux() *http.ServeMux {
	mux := http.NewServeMux()
	if d.metricsHandler != nil {
		mux.Handle("/metrics", d.metricsHandler)
	}
	mux.HandleFunc("/healthz", d.handleHealth)
	mux.HandleFunc("/-/healthy", d.handleHealth)
	mux.HandleFunc("/-/ready", d.handleReady)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.Health())
}

func (d *Daemon) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !d.running.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready\n"))
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status   string `json:"status"`
	Uptime   int64  `json:"uptime_seconds"`
	Messages int64  `json:"messages"`
	Scans    int64  `json:"scans"`
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:   "healthy",
		Uptime:   int64(time.Since(d.startTime).Seconds()),
		Messages: d.processed.Load(),
		Scans:    d.scans.Load(),
	}
}

// MetricsAddr returns the bound listener address, empty before Run
func (d *Daemon) MetricsAddr() string {
	addr, _ := d.addr.Load().(string)
	return addr
}

// ScanCount returns the number of periodic scans started
func (d *Daemon) ScanCount() int64 {
	return d.scans.Load()
}

// MessageCount returns the number of messages handled
func (d *Daemon) MessageCount() int64 {
	return d.processed.Load()
}
