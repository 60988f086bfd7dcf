package reporter

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
	"github.com/norabelrose/elk/internal/calibration"
	"github.com/norabelrose/elk/internal/covariance"
)

type eigenState int

const (
	eigenAccumulating eigenState = iota
	eigenSolved
	eigenCalibrated
)

// maxRidgeEscalations bounds how many times the whitening regularizer is
// raised tenfold before a singular invariance matrix is declared fatal.
const maxRidgeEscalations = 5

// Eigen derives a probe direction from streamed covariance statistics: it
// maximizes the between-class variance of the projection while minimizing its
// sensitivity to paraphrasing. Unlike ccs it never touches raw activations at
// solve time, so any number of datasets can be folded in batch by batch.
type Eigen struct {
	cfg Config
	d   int

	acc *covariance.Accumulator

	weights    []float64
	eigenvalue float64

	cal   calibration.Params
	state eigenState
}

func newEigen(cfg Config, d int) (*Eigen, error) {
	acc, err := covariance.New(d, cfg.Eigen.NumClasses)
	if err != nil {
		return nil, err
	}
	return &Eigen{
		cfg: cfg,
		d:   d,
		acc: acc,
		cal: calibration.Identity(),
	}, nil
}

func (e *Eigen) Variant() Variant { return VariantEigen }

// Update folds one activation batch into the covariance statistics.
func (e *Eigen) Update(x *tensor.Activations) error {
	if e.state != eigenAccumulating {
		return core.ErrAlreadyFitted
	}
	return e.acc.Update(x)
}

// FitStreaming finalizes the statistics and solves for the direction. The
// returned value is the leading eigenvalue, the variance objective the
// direction achieves.
func (e *Eigen) FitStreaming() (float64, error) {
	if e.state != eigenAccumulating {
		return 0, core.ErrAlreadyFitted
	}
	stats, err := e.acc.Finalize()
	if err != nil {
		return 0, err
	}

	var w []float64
	var lambda float64
	if e.cfg.Eigen.UseDifference {
		w, lambda, err = e.solveDifference(stats)
	} else {
		w, lambda, err = e.solveRatio(stats)
	}
	if err != nil {
		return 0, err
	}

	e.orient(w, stats)
	e.weights, e.eigenvalue = w, lambda
	e.state = eigenSolved
	log.Printf("[Eigen] solved over %d examples: eigenvalue=%.5f", stats.Count, lambda)
	return lambda, nil
}

// solveRatio maximizes w'Bw / w'Ww by whitening with the invariance matrix
// and taking the top eigenvector of the whitened between-class covariance.
// The ridge starts at Ridge * trace(W)/d and escalates tenfold on failure.
func (e *Eigen) solveRatio(stats *covariance.Stats) ([]float64, float64, error) {
	d := e.d
	var trace float64
	for i := 0; i < d; i++ {
		trace += stats.Invariance.At(i, i)
	}
	eps := e.cfg.Eigen.Ridge * trace / float64(d)
	if eps <= 0 || math.IsNaN(eps) {
		eps = e.cfg.Eigen.Ridge
	}

	for attempt := 0; attempt < maxRidgeEscalations; attempt++ {
		whitener, ok := invSqrt(stats.Invariance, eps)
		if !ok {
			eps *= 10
			continue
		}

		// M = S B S shares eigenvalues with the generalized problem; its top
		// eigenvector maps back through S to the sought direction.
		var m mat.Dense
		m.Mul(whitener, stats.BetweenClass)
		m.Mul(&m, whitener)
		u, lambda, ok := topEigenpair(&m)
		if !ok {
			eps *= 10
			continue
		}

		w := make([]float64, d)
		wVec := mat.NewVecDense(d, w)
		wVec.MulVec(whitener, mat.NewVecDense(d, u))
		if !normalize(w) {
			eps *= 10
			continue
		}
		if attempt > 0 {
			log.Printf("[Eigen] whitening needed %d ridge escalations (eps=%.3e)", attempt, eps)
		}
		return w, lambda, nil
	}
	return nil, 0, fmt.Errorf("%w: invariance matrix not invertible after %d ridge escalations", core.ErrSingular, maxRidgeEscalations)
}

// solveDifference maximizes w'(B - a*W)w directly.
func (e *Eigen) solveDifference(stats *covariance.Stats) ([]float64, float64, error) {
	d := e.d
	alpha := e.cfg.Eigen.InvarianceWeight
	m := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			m.Set(i, j, stats.BetweenClass.At(i, j)-alpha*stats.Invariance.At(i, j))
		}
	}
	w, lambda, ok := topEigenpair(m)
	if !ok {
		return nil, 0, fmt.Errorf("%w: eigendecomposition of the difference objective failed", core.ErrSingular)
	}
	if !normalize(w) {
		return nil, 0, fmt.Errorf("%w: degenerate leading eigenvector", core.ErrSingular)
	}
	return w, lambda, nil
}

// orient flips the direction so that class 1 scores higher, when the merged
// class means are available to tell the classes apart. The eigenproblem is
// sign-blind, so without this the probe would answer correctly or inverted at
// random.
func (e *Eigen) orient(w []float64, stats *covariance.Stats) {
	if stats.ClassCount != 2 || stats.ClassMeans == nil {
		return
	}
	d := e.d
	var dot float64
	for t := 0; t < d; t++ {
		dot += w[t] * (stats.ClassMeans[d+t] - stats.ClassMeans[t])
	}
	if dot < 0 {
		for t := range w {
			w[t] = -w[t]
		}
	}
}

// rawScores projects every cell onto the solved direction. The covariance
// statistics already absorb centering, so no normalization happens here.
func (e *Eigen) rawScores(x *tensor.Activations) ([]float64, error) {
	if e.state == eigenAccumulating {
		return nil, core.ErrNotFitted
	}
	if x.D != e.d {
		return nil, core.NewWidthMismatchError("predict", e.d, x.D)
	}
	out := make([]float64, 0, x.N*x.V*x.K)
	for _, row := range x.Rows() {
		var s float64
		for j, wj := range e.weights {
			s += wj * row[j]
		}
		out = append(out, s)
	}
	return out, nil
}

// PlattScale fits the probability mapping on the frozen direction.
func (e *Eigen) PlattScale(batches []tensor.LabeledBatch) error {
	if e.state == eigenAccumulating {
		return core.ErrNotFitted
	}
	cal, err := fitPlatt(e, batches)
	if err != nil {
		return err
	}
	e.cal = cal
	e.state = eigenCalibrated
	return nil
}

// Predict returns calibrated per-cell probabilities.
func (e *Eigen) Predict(x *tensor.Activations) (*tensor.Predictions, error) {
	raw, err := e.rawScores(x)
	if err != nil {
		return nil, err
	}
	return applyCalibration(x, raw, e.cal), nil
}

// Checkpoint captures the trained state.
func (e *Eigen) Checkpoint(layer int) (*Checkpoint, error) {
	if e.state == eigenAccumulating {
		return nil, core.ErrNotFitted
	}
	return &Checkpoint{
		Variant:     VariantEigen,
		Layer:       layer,
		HiddenSize:  e.d,
		Weights:     append([]float64(nil), e.weights...),
		EigenValue:  e.eigenvalue,
		Calibration: e.cal,
	}, nil
}

// invSqrt returns (A + eps*I)^(-1/2) via the symmetric eigendecomposition, or
// ok=false when the regularized matrix is still not positive definite.
func invSqrt(a *mat.SymDense, eps float64) (*mat.Dense, bool) {
	d := a.SymmetricDim()
	reg := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := a.At(i, j)
			if i == j {
				v += eps
			}
			reg.SetSym(i, j, v)
		}
	}

	var es mat.EigenSym
	if !es.Factorize(reg, true) {
		return nil, false
	}
	vals := es.Values(nil)
	for _, v := range vals {
		if v <= 0 || math.IsNaN(v) {
			return nil, false
		}
	}
	var q mat.Dense
	es.VectorsTo(&q)

	// Q diag(1/sqrt(vals)) Q'
	scaled := mat.NewDense(d, d, nil)
	for j := 0; j < d; j++ {
		s := 1 / math.Sqrt(vals[j])
		for i := 0; i < d; i++ {
			scaled.Set(i, j, q.At(i, j)*s)
		}
	}
	var out mat.Dense
	out.Mul(scaled, q.T())
	return &out, true
}

// topEigenpair symmetrizes m and returns its leading eigenvector and value.
func topEigenpair(m *mat.Dense) ([]float64, float64, bool) {
	d, _ := m.Dims()
	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	var es mat.EigenSym
	if !es.Factorize(sym, true) {
		return nil, 0, false
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// Values come back in ascending order.
	top := d - 1
	lambda := vals[top]
	if math.IsNaN(lambda) {
		return nil, 0, false
	}
	u := make([]float64, d)
	for i := 0; i < d; i++ {
		u[i] = vecs.At(i, top)
	}
	return u, lambda, true
}

// normalize scales w to unit length in place; false for a zero vector.
func normalize(w []float64) bool {
	var norm float64
	for _, v := range w {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return false
	}
	for i := range w {
		w[i] /= norm
	}
	return true
}
