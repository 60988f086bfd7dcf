// Package linear provides the dense logistic-regression machinery shared by
// Platt calibration, separability probes and the supervised baseline.
package linear

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/norabelrose/elk/domain/core"
)

// Options controls the full-batch Adam optimizer.
type Options struct {
	MaxIter      int
	LearningRate float64
	L2           float64
}

// DefaultOptions returns the optimizer settings used throughout training.
// Logistic regression is convex, so a zero init plus a fixed-length Adam run
// converges reliably without tuning.
func DefaultOptions() Options {
	return Options{MaxIter: 500, LearningRate: 0.05, L2: 1e-3}
}

// Classifier is a binary logistic-regression model over D-dimensional rows.
type Classifier struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// NewClassifier creates a zero-initialized classifier of width d.
func NewClassifier(d int) *Classifier {
	return &Classifier{Weights: make([]float64, d)}
}

// Decision returns the raw (pre-sigmoid) score for one row.
func (c *Classifier) Decision(row []float64) float64 {
	s := c.Bias
	for i, w := range c.Weights {
		s += w * row[i]
	}
	return s
}

// Predict returns sigmoid probabilities for a set of rows.
func (c *Classifier) Predict(rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[i] = Sigmoid(c.Decision(row))
	}
	return out
}

// Fit minimizes L2-penalized binary cross-entropy over the given rows and
// {0, 1} targets, returning the final unpenalized loss.
func (c *Classifier) Fit(rows [][]float64, targets []float64, opt Options) (float64, error) {
	if len(rows) == 0 {
		return 0, core.NewShapeError("empty training set")
	}
	if len(rows) != len(targets) {
		return 0, core.NewShapeError(fmt.Sprintf("%d rows but %d targets", len(rows), len(targets)))
	}
	d := len(c.Weights)
	for i, row := range rows {
		if len(row) != d {
			return 0, core.NewShapeError(fmt.Sprintf("row %d has width %d, classifier expects %d", i, len(row), d))
		}
	}

	adam := NewAdam(d+1, opt.LearningRate)
	grad := make([]float64, d+1)
	n := float64(len(rows))

	var loss float64
	for iter := 0; iter < opt.MaxIter; iter++ {
		for j := range grad {
			grad[j] = 0
		}
		loss = 0
		for i, row := range rows {
			p := Sigmoid(c.Decision(row))
			loss += crossEntropy(p, targets[i])
			g := (p - targets[i]) / n
			for j, x := range row {
				grad[j] += g * x
			}
			grad[d] += g
		}
		loss /= n
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, fmt.Errorf("%w: iteration %d", core.ErrNonFiniteLoss, iter)
		}
		for j := range c.Weights {
			grad[j] += opt.L2 * c.Weights[j]
		}

		adam.Step(grad)
		for j := range c.Weights {
			c.Weights[j] -= adam.Delta(j)
		}
		c.Bias -= adam.Delta(d)
	}
	return loss, nil
}

// Direction returns the unit-normalized weight vector.
func (c *Classifier) Direction() []float64 {
	norm := 0.0
	for _, w := range c.Weights {
		norm += w * w
	}
	norm = math.Sqrt(norm)
	out := make([]float64, len(c.Weights))
	if norm == 0 {
		return out
	}
	for i, w := range c.Weights {
		out[i] = w / norm
	}
	return out
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	// Split on sign to avoid overflow in exp.
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// crossEntropy clamps probabilities away from {0, 1} so a confidently wrong
// prediction yields a large finite loss instead of +Inf.
func crossEntropy(p, target float64) float64 {
	const eps = 1e-12
	p = math.Min(math.Max(p, eps), 1-eps)
	if target > 0.5 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}

// RandomInit fills the weights with scaled Gaussian noise from rng. Used by
// callers whose objective is non-convex and needs restarts.
func (c *Classifier) RandomInit(rng *rand.Rand) {
	scale := 1 / math.Sqrt(float64(len(c.Weights)))
	for i := range c.Weights {
		c.Weights[i] = rng.NormFloat64() * scale
	}
	c.Bias = 0
}

// Adam is a minimal Adam optimizer over a flat parameter vector.
type Adam struct {
	lr      float64
	m, v    []float64
	deltas  []float64
	t       int
	beta1   float64
	beta2   float64
	epsilon float64
}

// NewAdam creates an optimizer for n parameters.
func NewAdam(n int, lr float64) *Adam {
	return &Adam{
		lr:      lr,
		m:       make([]float64, n),
		v:       make([]float64, n),
		deltas:  make([]float64, n),
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
	}
}

// Step consumes one gradient and refreshes the parameter deltas.
func (a *Adam) Step(grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for j, g := range grad {
		a.m[j] = a.beta1*a.m[j] + (1-a.beta1)*g
		a.v[j] = a.beta2*a.v[j] + (1-a.beta2)*g*g
		mHat := a.m[j] / c1
		vHat := a.v[j] / c2
		a.deltas[j] = a.lr * mHat / (math.Sqrt(vHat) + a.epsilon)
	}
}

// Delta returns the update to subtract from parameter j.
func (a *Adam) Delta(j int) float64 { return a.deltas[j] }
