package ports

import (
	"context"

	"github.com/norabelrose/elk/domain/tensor"
	"github.com/norabelrose/elk/internal/linear"
)

// SupervisedMode selects how the labeled baseline is trained alongside the
// unsupervised probe.
type SupervisedMode string

const (
	// SupervisedNone skips the baseline entirely.
	SupervisedNone SupervisedMode = "none"
	// SupervisedSingle trains one logistic probe on the pooled training data.
	SupervisedSingle SupervisedMode = "single"
	// SupervisedINLP repeatedly trains a probe and projects its direction out,
	// measuring how deep the signal runs.
	SupervisedINLP SupervisedMode = "inlp"
	// SupervisedCV picks the L2 penalty by cross-validation before the final fit.
	SupervisedCV SupervisedMode = "cv"
)

// Valid reports whether the mode is one of the known settings.
func (m SupervisedMode) Valid() bool {
	switch m {
	case SupervisedNone, SupervisedSingle, SupervisedINLP, SupervisedCV:
		return true
	}
	return false
}

// BaselineModel is one trained supervised probe. Iteration is zero except in
// inlp mode, where it counts how many directions were removed before this fit.
// Projection holds those removed directions so prediction replays them.
type BaselineModel struct {
	Iteration  int                `json:"iteration"`
	Model      *linear.Classifier `json:"model"`
	Projection *linear.Projection `json:"projection,omitempty"`
	L2         float64            `json:"l2"`
	TrainLoss  float64            `json:"train_loss"`
}

// Predict scores every cell of the tensor through the projection and probe.
func (m BaselineModel) Predict(x *tensor.Activations) *tensor.Predictions {
	preds := tensor.NewPredictions(x.N, x.V, x.K)
	for i, row := range x.Rows() {
		if m.Projection != nil {
			row = m.Projection.Apply(row)
		}
		preds.Data[i] = linear.Sigmoid(m.Model.Decision(row))
	}
	return preds
}

// SupervisedPort trains the labeled baseline for one layer.
type SupervisedPort interface {
	Train(ctx context.Context, mode SupervisedMode, batches []tensor.LabeledBatch) ([]BaselineModel, error)
}
