// Package reporter trains linear probes that read latent truthfulness signals
// out of activation tensors. Two algorithms are provided behind one contract:
// contrastive consistency search (ccs) fits a direction by direct optimization
// on a single dataset, while the eigen variant streams covariance statistics
// over any number of datasets and solves a generalized eigenproblem.
package reporter

import (
	"fmt"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
	"github.com/norabelrose/elk/internal/calibration"
)

// Reporter is the shared contract of a trained probe. The two variants share
// almost no internal state, so the split is an interface rather than a base
// type with overrides.
type Reporter interface {
	Variant() Variant

	// Predict applies normalization (where the variant has any), projects each
	// (example, variant, choice) cell to a scalar and maps it through the
	// fitted calibration.
	Predict(x *tensor.Activations) (*tensor.Predictions, error)

	// PlattScale fits the calibration parameters on the frozen direction.
	// The direction itself is never altered.
	PlattScale(batches []tensor.LabeledBatch) error

	// Checkpoint captures the trained state for serialization.
	Checkpoint(layer int) (*Checkpoint, error)
}

// ContrastiveFitter is the training surface of the ccs variant.
type ContrastiveFitter interface {
	Reporter
	// Fit trains on exactly one dataset and returns the final loss.
	Fit(batches []tensor.LabeledBatch) (float64, error)
	// CheckSeparability reports a pseudo-AUROC for how linearly separable the
	// negative and positive halves already are, without using ground truth.
	CheckSeparability(train, val *tensor.Activations) (float64, error)
}

// StreamingFitter is the training surface of the eigen variant.
type StreamingFitter interface {
	Reporter
	// Update folds one batch into the covariance statistics.
	Update(x *tensor.Activations) error
	// FitStreaming finalizes the statistics, solves for the direction and
	// returns the leading eigenvalue as the training objective.
	FitStreaming() (float64, error)
}

// New builds an untrained reporter for hidden width d.
func New(cfg Config, d int) (Reporter, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, core.NewShapeError(fmt.Sprintf("non-positive hidden width %d", d))
	}
	switch cfg.Variant {
	case VariantCCS:
		return newCCS(cfg, d), nil
	case VariantEigen:
		return newEigen(cfg, d)
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownReporter, cfg.Variant)
}

// cellScorer produces the raw, uncalibrated scalar for every cell of a batch.
// Both variants implement it, which lets calibration be shared.
type cellScorer interface {
	rawScores(x *tensor.Activations) ([]float64, error)
}

// fitPlatt runs the shared 1-D logistic calibration over every cell of the
// given batches against their one-hot truth.
func fitPlatt(s cellScorer, batches []tensor.LabeledBatch) (calibration.Params, error) {
	var scores, targets []float64
	for _, b := range batches {
		if err := b.Labels.Validate(b.X); err != nil {
			return calibration.Params{}, err
		}
		raw, err := s.rawScores(b.X)
		if err != nil {
			return calibration.Params{}, err
		}
		scores = append(scores, raw...)
		targets = append(targets, b.Labels.OneHotCells(b.X.V, b.X.K)...)
	}
	return calibration.Fit(scores, targets)
}

// applyCalibration turns raw cell scores into a prediction tensor.
func applyCalibration(x *tensor.Activations, raw []float64, cal calibration.Params) *tensor.Predictions {
	preds := tensor.NewPredictions(x.N, x.V, x.K)
	for i, s := range raw {
		preds.Data[i] = cal.Apply(s)
	}
	return preds
}
