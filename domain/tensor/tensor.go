package tensor

import (
	"fmt"

	"github.com/norabelrose/elk/domain/core"
)

// Activations holds the hidden states extracted for one (dataset, split, layer)
// triple: N examples, V paraphrase variants per example, K answer choices and a
// hidden width of D floats per choice. Data is row-major over (N, V, K, D).
type Activations struct {
	N, V, K, D int
	Data       []float64
}

// NewActivations allocates a zeroed activation tensor.
func NewActivations(n, v, k, d int) (*Activations, error) {
	if n <= 0 || v <= 0 || k <= 0 || d <= 0 {
		return nil, core.NewShapeError(fmt.Sprintf("non-positive dimension in (%d, %d, %d, %d)", n, v, k, d))
	}
	return &Activations{N: n, V: v, K: k, D: d, Data: make([]float64, n*v*k*d)}, nil
}

// FromData wraps an existing buffer, validating its length against the shape.
func FromData(n, v, k, d int, data []float64) (*Activations, error) {
	a, err := NewActivations(n, v, k, d)
	if err != nil {
		return nil, err
	}
	if len(data) != n*v*k*d {
		return nil, core.NewShapeError(fmt.Sprintf("buffer length %d does not match shape (%d, %d, %d, %d)", len(data), n, v, k, d))
	}
	a.Data = data
	return a, nil
}

// At returns the D-length hidden vector for (example, variant, choice).
// The returned slice aliases the underlying buffer.
func (a *Activations) At(i, v, k int) []float64 {
	off := ((i*a.V+v)*a.K + k) * a.D
	return a.Data[off : off+a.D]
}

// SplitPair splits the choice axis of a binary tensor into its negative and
// positive halves, each shaped (N, V, D). Fails unless K == 2.
func (a *Activations) SplitPair() (*Slab, *Slab, error) {
	if a.K != 2 {
		return nil, nil, core.NewShapeError(fmt.Sprintf("choice split requires K=2, got K=%d", a.K))
	}
	neg := &Slab{N: a.N, V: a.V, D: a.D, Data: make([]float64, a.N*a.V*a.D)}
	pos := &Slab{N: a.N, V: a.V, D: a.D, Data: make([]float64, a.N*a.V*a.D)}
	for i := 0; i < a.N; i++ {
		for v := 0; v < a.V; v++ {
			copy(neg.At(i, v), a.At(i, v, 0))
			copy(pos.At(i, v), a.At(i, v, 1))
		}
	}
	return neg, pos, nil
}

// Rows flattens the tensor into (N*V*K) rows of width D. Row order follows the
// storage layout, so row index = (i*V+v)*K + k.
func (a *Activations) Rows() [][]float64 {
	rows := make([][]float64, 0, a.N*a.V*a.K)
	for i := 0; i < a.N; i++ {
		for v := 0; v < a.V; v++ {
			for k := 0; k < a.K; k++ {
				rows = append(rows, a.At(i, v, k))
			}
		}
	}
	return rows
}

// Slab is a rank-3 activation view (N, V, T): the pooling axis N, the preserved
// variant axis V and a flat trailing axis. Both the (N, V, D) choice halves used
// by contrastive training and the (N, V, K*D) view of a full tensor are slabs.
type Slab struct {
	N, V, D int
	Data    []float64
}

// At returns the trailing vector at (example, variant), aliasing the buffer.
func (s *Slab) At(i, v int) []float64 {
	off := (i*s.V + v) * s.D
	return s.Data[off : off+s.D]
}

// Rows flattens the slab into (N*V) rows; row index = i*V + v.
func (s *Slab) Rows() [][]float64 {
	rows := make([][]float64, 0, s.N*s.V)
	for i := 0; i < s.N; i++ {
		for v := 0; v < s.V; v++ {
			rows = append(rows, s.At(i, v))
		}
	}
	return rows
}

// Clone deep-copies the slab.
func (s *Slab) Clone() *Slab {
	data := make([]float64, len(s.Data))
	copy(data, s.Data)
	return &Slab{N: s.N, V: s.V, D: s.D, Data: data}
}
