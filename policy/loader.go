package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yairfalse/rpe/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RegoLoader loads a directory of .rego modules into a RegoEngine, one
// policy per file named after the file.
type RegoLoader struct {
	bundlePath string
	engine     *RegoEngine
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// NewRegoLoader creates a loader for bundlePath
func NewRegoLoader(bundlePath string, engine *RegoEngine) *RegoLoader {
	return &RegoLoader{
		bundlePath: bundlePath,
		engine:     engine,
		logger:     telemetry.NewLogger("policy-loader"),
		tracer:     otel.Tracer("policy-loader"),
	}
}

// Load walks the bundle and loads every .rego file. Test modules
// (*_test.rego) are ignored.
func (pl *RegoLoader) Load(ctx context.Context) ([]Info, error) {
	ctx, span := pl.tracer.Start(ctx, "policy_loader.load_policies",
		trace.WithAttributes(attribute.String("bundle_path", pl.bundlePath)))
	defer span.End()

	pl.logger.WithContext(ctx).Info().
		Str("bundle_path", pl.bundlePath).
		Msg("loading policy bundle")

	if _, err := os.Stat(pl.bundlePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("policy bundle path does not exist: %s", pl.bundlePath)
	}

	var loaded []string
	err := filepath.WalkDir(pl.bundlePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, "_test.rego") {
			return nil
		}

		id, err := pl.loadPolicyFile(ctx, path)
		if err != nil {
			return err
		}
		loaded = append(loaded, id)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	pl.logger.WithContext(ctx).Info().
		Str("engine", pl.engine.ID()).
		Int("count", len(loaded)).
		Msg("loaded policy bundle")

	var infos []Info
	for _, info := range pl.engine.Policies() {
		for _, id := range loaded {
			if info.ID == id {
				infos = append(infos, info)
				break
			}
		}
	}
	return infos, nil
}

func (pl *RegoLoader) loadPolicyFile(ctx context.Context, filePath string) (string, error) {
	ctx, span := pl.tracer.Start(ctx, "policy_loader.load_file",
		trace.WithAttributes(attribute.String("file_path", filePath)))
	defer span.End()

	// Validate file path to prevent directory traversal
	if err := pl.validateFilePath(filePath); err != nil {
		return "", fmt.Errorf("invalid file path %s: %w", filePath, err)
	}

	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		pl.logger.WithContext(ctx).Error().
			Err(err).
			Str("file_path", filePath).
			Msg("failed to read policy file")
		return "", fmt.Errorf("failed to read policy file %s: %w", filePath, err)
	}

	policyID := strings.TrimSuffix(filepath.Base(filePath), ".rego")

	if err := pl.engine.LoadPolicy(ctx, policyID, string(content)); err != nil {
		pl.logger.WithContext(ctx).Error().
			Err(err).
			Str("policy_id", policyID).
			Str("file_path", filePath).
			Msg("failed to load policy")
		return "", fmt.Errorf("failed to load policy %s from %s: %w", policyID, filePath, err)
	}

	return policyID, nil
}

func (pl *RegoLoader) validateFilePath(filePath string) error {
	cleanPath := filepath.Clean(filePath)

	// Ensure the path is within the bundle directory
	bundlePath := filepath.Clean(pl.bundlePath)
	relPath, err := filepath.Rel(bundlePath, cleanPath)
	if err != nil {
		return fmt.Errorf("failed to resolve relative path: %w", err)
	}

	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected")
	}

	return nil
}
