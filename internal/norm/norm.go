// Package norm implements the per-batch activation normalization used before
// probe training: mean-center over the example axis, then rescale so the
// root-mean-square deviation averages to one within each paraphrase variant.
package norm

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
)

// Normalizer centers a slab over its example axis and divides by one scale
// value per variant. The fitted statistics are reusable, so validation data
// can be transformed with the training split's mean and scale.
type Normalizer struct {
	// Scale disables the division step when false, leaving pure centering.
	Scale bool `json:"scale"`

	V int `json:"v"`
	T int `json:"t"`
	// Mu holds the per-(variant, trailing) mean, row-major (V, T).
	Mu []float64 `json:"mu"`
	// Sigma holds one scale per variant.
	Sigma []float64 `json:"sigma"`

	fitted bool
}

// New creates an unfitted normalizer.
func New(scale bool) *Normalizer {
	return &Normalizer{Scale: scale}
}

// Fitted reports whether statistics have been computed.
func (n *Normalizer) Fitted() bool { return n.fitted || len(n.Mu) > 0 }

// Fit computes the mean over the example axis for every (variant, trailing)
// position and, per variant, the average root-mean-square deviation across
// trailing positions. Requires at least two examples; the scale of a single
// observation is undefined.
func (n *Normalizer) Fit(x *tensor.Slab) error {
	if x.N < 2 {
		return fmt.Errorf("%w: got %d", core.ErrTooFewExamples, x.N)
	}

	n.V, n.T = x.V, x.D
	n.Mu = make([]float64, x.V*x.D)
	n.Sigma = make([]float64, x.V)

	for i := 0; i < x.N; i++ {
		for v := 0; v < x.V; v++ {
			row := x.At(i, v)
			mu := n.Mu[v*x.D : (v+1)*x.D]
			for t, val := range row {
				mu[t] += val
			}
		}
	}
	inv := 1 / float64(x.N)
	for j := range n.Mu {
		n.Mu[j] *= inv
	}

	// RMS deviation over N per cell, averaged over the trailing axis to give
	// one scale per variant.
	for v := 0; v < x.V; v++ {
		rms := make([]float64, x.D)
		mu := n.Mu[v*x.D : (v+1)*x.D]
		for i := 0; i < x.N; i++ {
			row := x.At(i, v)
			for t, val := range row {
				dev := val - mu[t]
				rms[t] += dev * dev
			}
		}
		for t := range rms {
			rms[t] = math.Sqrt(rms[t] * inv)
		}
		sigma, err := stats.Mean(rms)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrNumerical, err)
		}
		n.Sigma[v] = sigma
	}

	n.fitted = true
	return nil
}

// Transform applies the fitted statistics to a slab of matching shape,
// returning a new slab. Pure with respect to its input.
func (n *Normalizer) Transform(x *tensor.Slab) (*tensor.Slab, error) {
	if !n.Fitted() {
		return nil, core.NewConfigError("normalizer used before fitting")
	}
	if x.V != n.V || x.D != n.T {
		return nil, core.NewShapeError(fmt.Sprintf("slab (%d, %d) does not match fitted (%d, %d)", x.V, x.D, n.V, n.T))
	}

	out := x.Clone()
	for i := 0; i < out.N; i++ {
		for v := 0; v < out.V; v++ {
			row := out.At(i, v)
			mu := n.Mu[v*n.T : (v+1)*n.T]
			for t := range row {
				row[t] -= mu[t]
				if n.Scale {
					row[t] /= n.Sigma[v]
				}
			}
		}
	}
	return out, nil
}

// FitTransform fits on x and returns the normalized copy.
func (n *Normalizer) FitTransform(x *tensor.Slab) (*tensor.Slab, error) {
	if err := n.Fit(x); err != nil {
		return nil, err
	}
	return n.Transform(x)
}
