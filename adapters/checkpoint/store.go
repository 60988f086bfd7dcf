// Package checkpoint persists trained probes and baselines as JSON files:
// reporters/cfg.json once per sweep, reporters/layer_<N>.json per layer and
// lr_models/layer_<N>.json for the supervised baseline.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/norabelrose/elk/internal/reporter"
	"github.com/norabelrose/elk/ports"
)

// Store implements ports.CheckpointPort under one sweep directory.
type Store struct {
	root string
}

// NewStore creates a checkpoint store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// SaveConfig writes the sweep-wide reporter configuration.
func (s *Store) SaveConfig(ctx context.Context, cfg reporter.Config) error {
	return s.writeJSON(ctx, filepath.Join(s.root, "reporters", "cfg.json"), cfg)
}

// SaveReporter writes one layer's trained probe.
func (s *Store) SaveReporter(ctx context.Context, cp *reporter.Checkpoint) error {
	name := fmt.Sprintf("layer_%d.json", cp.Layer)
	return s.writeJSON(ctx, filepath.Join(s.root, "reporters", name), cp)
}

// LoadReporter reads one layer's probe back.
func (s *Store) LoadReporter(ctx context.Context, layer int) (*reporter.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.root, "reporters", fmt.Sprintf("layer_%d.json", layer))
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	var cp reporter.Checkpoint
	if err := json.Unmarshal(blob, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// SaveBaseline writes one layer's supervised models.
func (s *Store) SaveBaseline(ctx context.Context, layer int, models []ports.BaselineModel) error {
	name := fmt.Sprintf("layer_%d.json", layer)
	return s.writeJSON(ctx, filepath.Join(s.root, "lr_models", name), models)
}

func (s *Store) writeJSON(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
