package tensor

import (
	"fmt"

	"github.com/norabelrose/elk/domain/core"
)

// Labels holds the ground-truth class index per example, each in [0, K).
type Labels []int

// Validate checks every label against the tensor it annotates.
func (l Labels) Validate(x *Activations) error {
	if len(l) != x.N {
		return core.NewShapeError(fmt.Sprintf("%d labels for %d examples", len(l), x.N))
	}
	for i, y := range l {
		if y < 0 || y >= x.K {
			return core.NewShapeError(fmt.Sprintf("label %d at index %d outside [0, %d)", y, i, x.K))
		}
	}
	return nil
}

// OneHotCells expands the labels into one binary target per (example, variant,
// choice) cell, matching the row order of Activations.Rows.
func (l Labels) OneHotCells(v, k int) []float64 {
	out := make([]float64, 0, len(l)*v*k)
	for _, y := range l {
		for j := 0; j < v; j++ {
			for c := 0; c < k; c++ {
				if c == y {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			}
		}
	}
	return out
}

// Classes reports how many distinct classes appear in the label set.
func (l Labels) Classes() int {
	seen := make(map[int]bool, 4)
	for _, y := range l {
		seen[y] = true
	}
	return len(seen)
}

// Predictions holds per-cell probabilities or scores shaped (N, V, K), either
// emitted by a trained probe or supplied by the upstream model itself.
type Predictions struct {
	N, V, K int
	Data    []float64
}

// NewPredictions allocates a zeroed prediction tensor.
func NewPredictions(n, v, k int) *Predictions {
	return &Predictions{N: n, V: v, K: k, Data: make([]float64, n*v*k)}
}

// At returns the value at (example, variant, choice).
func (p *Predictions) At(i, v, k int) float64 {
	return p.Data[(i*p.V+v)*p.K+k]
}

// Set writes the value at (example, variant, choice).
func (p *Predictions) Set(i, v, k int, val float64) {
	p.Data[(i*p.V+v)*p.K+k] = val
}

// LabeledBatch pairs one dataset's activations with its ground truth. Batches
// from several datasets may differ in V and K but never in D.
type LabeledBatch struct {
	Name   string
	X      *Activations
	Labels Labels
}
