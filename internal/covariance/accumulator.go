// Package covariance maintains the streaming sufficient statistics behind the
// eigen probe: a between-class covariance capturing how answer choices differ,
// and a variant-invariance covariance capturing sensitivity to paraphrasing.
package covariance

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
)

// Accumulator folds activation batches into running covariance statistics.
//
// Per-class means are merged with sample-count weights in a parallel-variance
// style combination and the scatter matrices are formed only at Finalize, so
// the result does not depend on how the example set was partitioned into
// Update calls, beyond floating-point rounding.
//
// classCount == 0 accepts batches with differing numbers of answer choices:
// running class means are kept per distinct choice count, and each group's
// between-class scatter is folded in with weight proportional to the number of
// examples it saw. With a fixed classCount every batch must match it, and the
// finalized Stats expose the merged class means for orienting the direction.
type Accumulator struct {
	d          int
	classCount int

	n int // examples folded so far

	// Variant-invariance scatter: plain sum of per-(example, choice) deviations
	// around the variant mean, with its total sample weight. A pure sum
	// commutes exactly, which is what makes Update order-free.
	intra  []float64
	intraW float64

	groups map[int]*classGroup
}

// classGroup holds running per-class statistics for one choice count.
type classGroup struct {
	k        int
	means    []float64 // (k, d) running class means
	meanW    []float64 // per-class sample weight
	examples float64   // example count, weights this group's scatter at Finalize
}

// Stats is the finalized output of an accumulator.
type Stats struct {
	BetweenClass *mat.SymDense
	Invariance   *mat.SymDense
	Count        int

	// ClassMeans is row-major (ClassCount, d); nil when choice counts varied.
	ClassMeans []float64
	ClassCount int
}

// New creates an accumulator for hidden width d. classCount fixes the number
// of answer choices every batch must carry; zero accepts heterogeneous batches.
func New(d, classCount int) (*Accumulator, error) {
	if d <= 0 {
		return nil, core.NewShapeError(fmt.Sprintf("non-positive hidden width %d", d))
	}
	if classCount < 0 {
		return nil, core.NewConfigError(fmt.Sprintf("negative class count %d", classCount))
	}
	return &Accumulator{
		d:          d,
		classCount: classCount,
		intra:      make([]float64, d*d),
		groups:     make(map[int]*classGroup),
	}, nil
}

// Update folds one batch into the running statistics.
func (a *Accumulator) Update(x *tensor.Activations) error {
	if x.D != a.d {
		return core.NewWidthMismatchError("batch", a.d, x.D)
	}
	if a.classCount > 0 && x.K != a.classCount {
		return core.NewClassCountError(a.classCount, x.K)
	}

	d := a.d

	// Batch class centroids over (N, V).
	mu := make([]float64, x.K*d)
	for i := 0; i < x.N; i++ {
		for v := 0; v < x.V; v++ {
			for k := 0; k < x.K; k++ {
				row := x.At(i, v, k)
				off := k * d
				for t, val := range row {
					mu[off+t] += val
				}
			}
		}
	}
	invNV := 1 / float64(x.N*x.V)
	for j := range mu {
		mu[j] *= invNV
	}

	// Merge into the running class means for this choice count. The weighted
	// mean combination is associative and commutative, so batch order and
	// batch boundaries cannot change the finalized centroids.
	grp := a.groups[x.K]
	if grp == nil {
		grp = &classGroup{
			k:     x.K,
			means: make([]float64, x.K*d),
			meanW: make([]float64, x.K),
		}
		a.groups[x.K] = grp
	}
	cw := float64(x.N * x.V)
	for k := 0; k < x.K; k++ {
		total := grp.meanW[k] + cw
		for t := 0; t < d; t++ {
			idx := k*d + t
			grp.means[idx] += (mu[idx] - grp.means[idx]) * cw / total
		}
		grp.meanW[k] = total
	}
	grp.examples += float64(x.N)

	// Variant scatter: deviations from each (example, choice) variant mean.
	vbar := make([]float64, d)
	dev := make([]float64, d)
	for i := 0; i < x.N; i++ {
		for k := 0; k < x.K; k++ {
			for t := range vbar {
				vbar[t] = 0
			}
			for v := 0; v < x.V; v++ {
				row := x.At(i, v, k)
				for t, val := range row {
					vbar[t] += val
				}
			}
			for t := range vbar {
				vbar[t] /= float64(x.V)
			}
			for v := 0; v < x.V; v++ {
				row := x.At(i, v, k)
				for t, val := range row {
					dev[t] = val - vbar[t]
				}
				outerAdd(a.intra, dev, 1, d)
			}
		}
	}
	a.intraW += float64(x.N * x.V * x.K)

	a.n += x.N
	return nil
}

// Finalize returns the accumulated covariance matrices and example count.
func (a *Accumulator) Finalize() (*Stats, error) {
	if a.n == 0 {
		return nil, core.NewConfigError("covariance accumulator finalized before any update")
	}

	d := a.d

	// Between-class scatter per choice-count group, then an example-weighted
	// average across groups. With a single group this is exactly the scatter
	// of the merged class centroids.
	between := make([]float64, d*d)
	var totalW float64
	for _, k := range a.groupKeys() {
		grp := a.groups[k]
		grand := make([]float64, d)
		for c := 0; c < grp.k; c++ {
			for t := 0; t < d; t++ {
				grand[t] += grp.means[c*d+t]
			}
		}
		for t := range grand {
			grand[t] /= float64(grp.k)
		}

		scatter := make([]float64, d*d)
		dev := make([]float64, d)
		for c := 0; c < grp.k; c++ {
			for t := 0; t < d; t++ {
				dev[t] = grp.means[c*d+t] - grand[t]
			}
			outerAdd(scatter, dev, 1/float64(grp.k), d)
		}

		w := grp.examples
		frac := w / (totalW + w)
		for j := range between {
			between[j] += frac * (scatter[j] - between[j])
		}
		totalW += w
	}

	invariance := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			invariance.SetSym(i, j, a.intra[i*d+j]/a.intraW)
		}
	}

	stats := &Stats{
		BetweenClass: symFromDense(between, d),
		Invariance:   invariance,
		Count:        a.n,
	}
	if a.classCount > 0 {
		grp := a.groups[a.classCount]
		stats.ClassMeans = append([]float64(nil), grp.means...)
		stats.ClassCount = a.classCount
	}
	return stats, nil
}

// Count reports the number of examples folded so far.
func (a *Accumulator) Count() int { return a.n }

// Width reports the hidden width the accumulator was built for.
func (a *Accumulator) Width() int { return a.d }

// groupKeys returns the seen choice counts in deterministic order.
func (a *Accumulator) groupKeys() []int {
	keys := make([]int, 0, len(a.groups))
	for k := range a.groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// outerAdd accumulates scale * dev * devᵀ into dst.
func outerAdd(dst, dev []float64, scale float64, d int) {
	for i := 0; i < d; i++ {
		vi := dev[i] * scale
		row := dst[i*d : (i+1)*d]
		for j := 0; j < d; j++ {
			row[j] += vi * dev[j]
		}
	}
}

func symFromDense(buf []float64, d int) *mat.SymDense {
	s := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			// Average the mirror entries to wash out asymmetric rounding.
			s.SetSym(i, j, 0.5*(buf[i*d+j]+buf[j*d+i]))
		}
	}
	return s
}
