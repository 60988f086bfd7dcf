// Package calibration implements Platt scaling: a post-hoc one-dimensional
// logistic fit mapping a frozen probe score to a probability. The transform is
// monotonic, so example ranking is untouched; only the probability mapping
// changes.
package calibration

import (
	"fmt"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/internal/linear"
)

// Params is the fitted scalar transform: sigmoid(Scale*score + Bias).
type Params struct {
	Scale float64 `json:"scale"`
	Bias  float64 `json:"bias"`
}

// Identity returns parameters that leave the sigmoid of the raw score.
func Identity() Params {
	return Params{Scale: 1}
}

// Apply maps a raw score through the calibrated sigmoid.
func (p Params) Apply(score float64) float64 {
	return linear.Sigmoid(p.Scale*score + p.Bias)
}

// Fit maximizes the label likelihood of sigmoid(scale*score + bias) over the
// given raw scores and {0, 1} targets. This is logistic regression on a single
// feature, so it reuses the shared classifier.
func Fit(scores, targets []float64) (Params, error) {
	if len(scores) != len(targets) {
		return Params{}, core.NewShapeError(fmt.Sprintf("%d scores but %d targets", len(scores), len(targets)))
	}
	if len(scores) == 0 {
		return Params{}, core.NewShapeError("empty calibration set")
	}

	rows := make([][]float64, len(scores))
	for i, s := range scores {
		rows[i] = []float64{s}
	}

	clf := linear.NewClassifier(1)
	clf.Weights[0] = 1 // start from the identity transform
	opt := linear.DefaultOptions()
	opt.L2 = 0 // two free parameters need no shrinkage
	if _, err := clf.Fit(rows, targets, opt); err != nil {
		return Params{}, err
	}
	return Params{Scale: clf.Weights[0], Bias: clf.Bias}, nil
}
