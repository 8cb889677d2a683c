package emitter

import (
	"context"
	"fmt"

	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
	"github.com/yairfalse/rpe/storage"
	"github.com/yairfalse/rpe/telemetry"
)

// StoreEmitter persists verdicts in a FindingStore. Resources that were
// recreated since the last batch lose the verdicts of their previous
// incarnation before the new ones are recorded.
type StoreEmitter struct {
	store  *storage.FindingStore
	logger *telemetry.Logger
}

// NewStoreEmitter creates a store emitter. The emitter owns the store and
// closes it on Close.
func NewStoreEmitter(store *storage.FindingStore) *StoreEmitter {
	return &StoreEmitter{
		store:  store,
		logger: telemetry.NewLogger("emitter-store"),
	}
}

// Emit records the batch as one store revision.
func (e *StoreEmitter) Emit(ctx context.Context, batch *policy.Batch) error {
	recreated := 0
	for _, rr := range batch.Results {
		diff, err := e.store.ObserveUniquifier(ctx, rr.Resource)
		if err != nil {
			return fmt.Errorf("observe %s: %w", rr.Resource.FullName(), err)
		}
		if diff == resource.DiffRecreated {
			recreated++
		}
	}

	rev, err := e.store.Record(ctx, batch.Evaluations())
	if err != nil {
		return fmt.Errorf("record batch %s: %w", batch.ID, err)
	}

	e.logger.WithContext(ctx).Debug().
		Str("batch_id", batch.ID).
		Int64("revision", rev).
		Int("recreated", recreated).
		Msg("batch stored")

	return nil
}

// Close closes the underlying store.
func (e *StoreEmitter) Close() error {
	return e.store.Close()
}
