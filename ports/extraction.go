package ports

import (
	"context"

	"github.com/norabelrose/elk/domain/tensor"
)

// DatasetSplit bundles everything extracted for one (dataset, split, layer)
// triple. LMPreds carries the upstream model's own answer probabilities when
// the extraction recorded them; nil otherwise.
type DatasetSplit struct {
	Dataset string
	Split   string
	Layer   int

	Hiddens *tensor.Activations
	Labels  tensor.Labels
	LMPreds *tensor.Predictions
}

// Split names used by the sweep.
const (
	SplitTrain = "train"
	SplitVal   = "val"
)

// ExtractionPort reads previously extracted activations. Extraction itself
// happens upstream; this boundary only loads its output.
type ExtractionPort interface {
	LoadSplit(ctx context.Context, dataset, split string, layer int) (*DatasetSplit, error)
}
