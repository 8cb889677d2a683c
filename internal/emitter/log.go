package emitter

import (
	"context"

	"github.com/yairfalse/rpe/policy"
	"github.com/yairfalse/rpe/telemetry"
)

// LogEmitter writes findings and a batch summary to the structured log.
// Passing verdicts are logged at debug level.
type LogEmitter struct {
	logger *telemetry.Logger
}

// NewLogEmitter creates a log emitter.
func NewLogEmitter(logger *telemetry.Logger) *LogEmitter {
	if logger == nil {
		logger = telemetry.NewLogger("emitter-log")
	}
	return &LogEmitter{logger: logger}
}

// Emit logs every evaluation of the batch.
func (e *LogEmitter) Emit(ctx context.Context, batch *policy.Batch) error {
	log := e.logger.WithContext(ctx)

	findings := 0
	for _, ev := range batch.Evaluations() {
		switch {
		case ev.Finding():
			findings++
			event := log.Warn().
				Str("engine", ev.EngineID()).
				Str("policy_id", ev.PolicyID).
				Str("resource_type", string(ev.Resource.Type())).
				Str("resource_name", ev.Resource.FullName()).
				Bool("remediable", ev.Remediable)
			if sev, ok := ev.PolicyAttributes["severity"].(string); ok {
				event = event.Str("severity", sev)
			}
			event.Msg("policy finding")
		default:
			log.Debug().
				Str("engine", ev.EngineID()).
				Str("policy_id", ev.PolicyID).
				Str("resource_name", ev.Resource.FullName()).
				Bool("compliant", ev.Compliant).
				Bool("excluded", ev.Excluded()).
				Msg("policy verdict")
		}
	}

	failures := 0
	for _, rr := range batch.Results {
		failures += rr.Failures()
	}

	log.Info().
		Str("batch_id", batch.ID).
		Int("resources", len(batch.Results)).
		Int("findings", findings).
		Int("failures", failures).
		Msg("batch emitted")

	return nil
}

// Close is a no-op for the log emitter.
func (e *LogEmitter) Close() error {
	return nil
}
