// Package plugin keeps the set of policy packs available to the CLI and daemon.
package plugin

import (
	"fmt"
	"slices"
	"sync"

	"github.com/yairfalse/rpe/policy"
)

// Pack is a named bundle of Go policies.
// Packs are registered by explicit calls, never discovered by reflection.
type Pack interface {
	// Name returns the pack identifier (e.g., "gcp")
	Name() string

	// Definitions returns the policies of the pack, in discovery order.
	Definitions() ([]policy.Definition, error)
}

var (
	registry = make(map[string]Pack)
	mu       sync.RWMutex
)

// Register adds a pack to the registry, replacing any pack with the same name.
func Register(p Pack) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

// Get returns a pack by name.
func Get(name string) (Pack, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// All returns all registered packs sorted by name.
func All() []Pack {
	mu.RLock()
	defer mu.RUnlock()
	packs := make([]Pack, 0, len(registry))
	for _, p := range registry {
		packs = append(packs, p)
	}
	slices.SortFunc(packs, func(a, b Pack) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})
	return packs
}

// Names returns all registered pack names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clear removes all packs from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Pack)
}

// NewEngine creates a Go engine and discovers the named packs into it.
// No names means every registered pack.
func NewEngine(id string, names ...string) (*policy.GoEngine, error) {
	var packs []Pack
	if len(names) == 0 {
		packs = All()
	}
	for _, name := range names {
		p, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("policy pack %q is not registered", name)
		}
		packs = append(packs, p)
	}

	e := policy.NewGoEngine(id)
	for _, p := range packs {
		if _, err := e.Discover(p); err != nil {
			return nil, fmt.Errorf("pack %s: %w", p.Name(), err)
		}
	}
	return e, nil
}
