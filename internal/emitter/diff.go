package emitter

import (
	"sync"

	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
)

// DiffType is a change of finding status between batches.
type DiffType string

const (
	// DiffOpened indicates a verdict became a finding.
	DiffOpened DiffType = "opened"
	// DiffResolved indicates a finding became compliant or excluded.
	DiffResolved DiffType = "resolved"
)

// FindingDiff is one status change.
type FindingDiff struct {
	Type       DiffType
	Evaluation policy.Evaluation
}

// DiffTracker remembers whether each (resource, engine, policy) verdict was
// a finding and detects transitions.
type DiffTracker struct {
	mu          sync.RWMutex
	previous    map[string]bool
	initialized bool
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[string]bool),
	}
}

// ComputeDiff compares evaluations against the known state.
// Returns nil before the first Update (baseline establishment).
// Returns empty slice if no changes detected.
func (d *DiffTracker) ComputeDiff(evals []policy.Evaluation) []FindingDiff {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil
	}

	diffs := make([]FindingDiff, 0)
	for _, ev := range evals {
		wasOpen, seen := d.previous[evaluationKey(ev)]
		isOpen := ev.Finding()
		switch {
		case isOpen && !wasOpen:
			diffs = append(diffs, FindingDiff{Type: DiffOpened, Evaluation: ev})
		case !isOpen && seen && wasOpen:
			diffs = append(diffs, FindingDiff{Type: DiffResolved, Evaluation: ev})
		}
	}
	return diffs
}

// Update merges the evaluations into the known state. Verdicts missing from
// evals are kept, since a batch rarely covers every resource.
func (d *DiffTracker) Update(evals []policy.Evaluation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ev := range evals {
		d.previous[evaluationKey(ev)] = ev.Finding()
	}
	d.initialized = true
}

// Open returns the number of verdicts currently known to be findings.
func (d *DiffTracker) Open() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, open := range d.previous {
		if open {
			n++
		}
	}
	return n
}

func evaluationKey(ev policy.Evaluation) string {
	return resource.ResourceKey(ev.Resource) + "|" + ev.EngineID() + "|" + ev.PolicyID
}
