package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/yairfalse/rpe/extractor"
	"github.com/yairfalse/rpe/internal/config"
	"github.com/yairfalse/rpe/internal/emitter"
	"github.com/yairfalse/rpe/internal/plugin"
	"github.com/yairfalse/rpe/internal/plugin/gcp"
	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
	"github.com/yairfalse/rpe/storage"
)

// app bundles the collaborators the commands share
type app struct {
	cfg      *config.Config
	registry *resource.Registry
	fetcher  *resource.HTTPFetcher
	engines  []policy.Engine
}

// newApp builds the registry. Live data is wired unless withData is false or
// fetching is disabled in the config.
func newApp(ctx context.Context, cfg *config.Config, withData bool) (*app, error) {
	a := &app{cfg: cfg}

	opts := []resource.Option{resource.WithFetchTimeout(cfg.Fetch.Timeout)}
	if withData && !cfg.Fetch.Disabled {
		var fopts []resource.FetcherOption
		if cfg.Fetch.BaseURL != "" {
			fopts = append(fopts, resource.WithBaseURL(cfg.Fetch.BaseURL))
		}
		f, err := resource.NewHTTPFetcher(ctx, fopts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create fetcher: %w", err)
		}
		a.fetcher = f
		opts = append(opts, resource.WithFetcher(f))
	}

	reg, err := resource.NewGCPRegistry(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	a.registry = reg
	return a, nil
}

// loadEngines builds every configured engine in config order
func (a *app) loadEngines(ctx context.Context) error {
	plugin.Clear()
	if a.fetcher != nil {
		plugin.Register(gcp.New(a.fetcher))
	} else {
		plugin.Register(gcp.New(nil))
	}

	a.engines = a.engines[:0]
	for _, ec := range a.cfg.Engines {
		e, err := buildEngine(ctx, ec)
		if err != nil {
			return fmt.Errorf("engine %s: %w", ec.ID, err)
		}
		a.engines = append(a.engines, e)
	}
	return nil
}

func buildEngine(ctx context.Context, ec config.EngineConfig) (policy.Engine, error) {
	switch ec.Kind {
	case config.EngineGo:
		var packs []string
		if ec.Source != "" {
			packs = append(packs, ec.Source)
		}
		e, err := plugin.NewEngine(ec.ID, packs...)
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.EngineRego:
		e := policy.NewRegoEngine(ec.ID)
		if _, err := policy.NewRegoLoader(ec.Source, e).Load(ctx); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", ec.Kind)
	}
}

func (a *app) extractor(name string) (extractor.Extractor, error) {
	switch name {
	case "auditlog":
		return extractor.NewAuditLog(a.registry), nil
	case "asset":
		return extractor.NewAsset(a.registry), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q (must be auditlog or asset)", name)
	}
}

// evaluate runs every engine over resources
func (a *app) evaluate(ctx context.Context, resources []*resource.Resource) (*policy.Batch, error) {
	return policy.NewRunner(a.cfg.Workers).Run(ctx, resources, a.engines)
}

// openStore opens the finding store, or returns nil when no path is configured
func (a *app) openStore() (*storage.FindingStore, error) {
	if a.cfg.Storage.Path == "" {
		return nil, nil
	}
	s, err := storage.Open(a.cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open finding store: %w", err)
	}
	return s, nil
}

// emitters builds the one-shot emitter chain: the log plus the store when
// one is configured.
func (a *app) emitters(store *storage.FindingStore) emitter.Emitter {
	emitters := []emitter.Emitter{emitter.NewLogEmitter(nil)}
	if store != nil {
		emitters = append(emitters, emitter.NewStoreEmitter(store))
	}
	return emitter.NewMultiEmitter(emitters...)
}

// readPayload reads the file named by args, or stdin for "-" or no argument
func readPayload(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return data, nil
}
