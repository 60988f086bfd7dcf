package linear

import "math"

// Projection removes a growing set of directions from feature rows. It backs
// iterative nullspace projection: after each baseline round the learned
// direction is added, and subsequent rounds train on the projected data.
type Projection struct {
	Dirs [][]float64 `json:"dirs"` // orthonormal basis of the removed subspace
}

// Add orthonormalizes dir against the removed subspace and appends it.
// A direction already inside the subspace is dropped.
func (p *Projection) Add(dir []float64) {
	v := make([]float64, len(dir))
	copy(v, dir)
	for _, u := range p.Dirs {
		dot := 0.0
		for i := range v {
			dot += v[i] * u[i]
		}
		for i := range v {
			v[i] -= dot * u[i]
		}
	}
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	if norm < 1e-20 {
		return
	}
	inv := 1 / math.Sqrt(norm)
	for i := range v {
		v[i] *= inv
	}
	p.Dirs = append(p.Dirs, v)
}

// Clone deep-copies the projection so later Add calls cannot alias it.
func (p *Projection) Clone() *Projection {
	if len(p.Dirs) == 0 {
		return &Projection{}
	}
	dirs := make([][]float64, len(p.Dirs))
	for i, u := range p.Dirs {
		dirs[i] = append([]float64(nil), u...)
	}
	return &Projection{Dirs: dirs}
}

// Apply returns row with the removed subspace projected out.
func (p *Projection) Apply(row []float64) []float64 {
	out := make([]float64, len(row))
	copy(out, row)
	for _, u := range p.Dirs {
		dot := 0.0
		for i := range out {
			dot += out[i] * u[i]
		}
		for i := range out {
			out[i] -= dot * u[i]
		}
	}
	return out
}

// ApplyAll projects every row.
func (p *Projection) ApplyAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = p.Apply(row)
	}
	return out
}
