// Package extraction reads and writes extracted activation splits on the
// local filesystem, one gob file per (dataset, split, layer) triple laid out
// as root/<dataset>/<split>/layer_<N>.gob.
package extraction

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
	"github.com/norabelrose/elk/ports"
)

// record is the on-disk shape of one split.
type record struct {
	N, V, K, D int
	Data       []float64
	Labels     []int
	LMPreds    []float64 // optional, length N*V*K when present
}

// Store implements ports.ExtractionPort over a directory tree. It also writes
// splits, which the extraction pipeline and tests use to stage data.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(dataset, split string, layer int) string {
	return filepath.Join(s.root, dataset, split, fmt.Sprintf("layer_%d.gob", layer))
}

// Save writes one split to disk, creating directories as needed.
func (s *Store) Save(ctx context.Context, ds *ports.DatasetSplit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ds.Labels.Validate(ds.Hiddens); err != nil {
		return err
	}

	rec := record{
		N:      ds.Hiddens.N,
		V:      ds.Hiddens.V,
		K:      ds.Hiddens.K,
		D:      ds.Hiddens.D,
		Data:   ds.Hiddens.Data,
		Labels: ds.Labels,
	}
	if ds.LMPreds != nil {
		rec.LMPreds = ds.LMPreds.Data
	}

	path := s.path(ds.Dataset, ds.Split, ds.Layer)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating split directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating split file: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("encoding split %s: %w", path, err)
	}
	return nil
}

// LoadSplit reads one split back, validating its shape.
func (s *Store) LoadSplit(ctx context.Context, dataset, split string, layer int) (*ports.DatasetSplit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.path(dataset, split, layer)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening split %s: %w", path, err)
	}
	defer f.Close()

	var rec record
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding split %s: %w", path, err)
	}

	hiddens, err := tensor.FromData(rec.N, rec.V, rec.K, rec.D, rec.Data)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", path, err)
	}
	labels := tensor.Labels(rec.Labels)
	if err := labels.Validate(hiddens); err != nil {
		return nil, fmt.Errorf("split %s: %w", path, err)
	}

	out := &ports.DatasetSplit{
		Dataset: dataset,
		Split:   split,
		Layer:   layer,
		Hiddens: hiddens,
		Labels:  labels,
	}
	if rec.LMPreds != nil {
		if len(rec.LMPreds) != rec.N*rec.V*rec.K {
			return nil, core.NewShapeError(fmt.Sprintf("split %s carries %d lm predictions for %d cells", path, len(rec.LMPreds), rec.N*rec.V*rec.K))
		}
		out.LMPreds = &tensor.Predictions{N: rec.N, V: rec.V, K: rec.K, Data: rec.LMPreds}
	}
	return out, nil
}
