package reporter

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
	"github.com/norabelrose/elk/internal/calibration"
	"github.com/norabelrose/elk/internal/eval"
	"github.com/norabelrose/elk/internal/linear"
	"github.com/norabelrose/elk/internal/norm"
)

type ccsState int

const (
	ccsUntrained ccsState = iota
	ccsTrained
	ccsCalibrated
)

// CCS trains a probe by contrastive consistency search: negated and affirmed
// phrasings of the same question must receive complementary, confident scores.
// Ground-truth labels never enter the loss; they are used only for later
// calibration and diagnostics.
type CCS struct {
	cfg Config
	d   int

	negNorm *norm.Normalizer
	posNorm *norm.Normalizer

	weights []float64
	bias    float64
	loss    float64

	cal   calibration.Params
	state ccsState
}

func newCCS(cfg Config, d int) *CCS {
	return &CCS{
		cfg:     cfg,
		d:       d,
		negNorm: norm.New(!cfg.CCS.CenterOnly),
		posNorm: norm.New(!cfg.CCS.CenterOnly),
		cal:     calibration.Identity(),
	}
}

func (c *CCS) Variant() Variant { return VariantCCS }

// Fit trains the direction on a single dataset. Multi-dataset input is a
// contract violation: the consistency structure only holds within one task.
func (c *CCS) Fit(batches []tensor.LabeledBatch) (float64, error) {
	if c.state != ccsUntrained {
		return 0, core.ErrAlreadyFitted
	}
	if len(batches) != 1 {
		names := make([]string, 0, len(batches))
		for _, b := range batches {
			names = append(names, b.Name)
		}
		return 0, fmt.Errorf("%w: got %d (%v)", core.ErrMultiDataset, len(batches), names)
	}

	batch := batches[0]
	x := batch.X
	if err := batch.Labels.Validate(x); err != nil {
		return 0, err
	}
	if x.D != c.d {
		return 0, core.NewWidthMismatchError(batch.Name, c.d, x.D)
	}

	x0, x1, err := x.SplitPair()
	if err != nil {
		return 0, err
	}
	neg, err := c.negNorm.FitTransform(x0)
	if err != nil {
		return 0, err
	}
	pos, err := c.posNorm.FitTransform(x1)
	if err != nil {
		return 0, err
	}

	rows0 := neg.Rows()
	rows1 := pos.Rows()

	rng := rand.New(rand.NewSource(c.cfg.Seed))
	best := math.Inf(1)
	var bestW []float64
	var bestB float64

	for try := 0; try < c.cfg.CCS.NumTries; try++ {
		w, b, loss := c.optimize(rows0, rows1, rng)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			continue
		}
		if loss < best {
			best, bestW, bestB = loss, w, b
		}
	}
	if bestW == nil {
		return 0, fmt.Errorf("%w: every restart diverged", core.ErrNonFiniteLoss)
	}

	c.weights, c.bias, c.loss = bestW, bestB, best
	c.state = ccsTrained
	log.Printf("[CCS] fitted on %s: loss=%.5f after %d restarts", batch.Name, best, c.cfg.CCS.NumTries)
	return best, nil
}

// optimize runs one Adam descent from a random init and returns the final
// parameters with their loss.
func (c *CCS) optimize(rows0, rows1 [][]float64, rng *rand.Rand) ([]float64, float64, float64) {
	d := c.d
	w := make([]float64, d)
	scale := 1 / math.Sqrt(float64(d))
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
	b := 0.0

	alpha := c.cfg.CCS.ConsistencyWeight
	beta := c.cfg.CCS.ConfidenceWeight
	m := float64(len(rows0))

	opt := linear.NewAdam(d+1, c.cfg.CCS.LearningRate)
	grad := make([]float64, d+1)
	loss := math.NaN()

	for iter := 0; iter < c.cfg.CCS.MaxIter; iter++ {
		for j := range grad {
			grad[j] = 0
		}
		loss = 0
		for i := range rows0 {
			s0, s1 := b, b
			for j, wj := range w {
				s0 += wj * rows0[i][j]
				s1 += wj * rows1[i][j]
			}
			p0 := linear.Sigmoid(s0)
			p1 := linear.Sigmoid(s1)

			// Consistency: the two phrasings should sum to one.
			t := p0 + p1 - 1
			loss += alpha * t * t
			g0 := 2 * alpha * t
			g1 := 2 * alpha * t

			// Confidence: push the smaller side away from ambivalence.
			if p0 < p1 {
				loss += beta * p0 * p0
				g0 += 2 * beta * p0
			} else {
				loss += beta * p1 * p1
				g1 += 2 * beta * p1
			}

			g0 *= p0 * (1 - p0) / m
			g1 *= p1 * (1 - p1) / m
			for j := range w {
				grad[j] += g0*rows0[i][j] + g1*rows1[i][j]
			}
			grad[d] += g0 + g1
		}
		loss /= m
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, 0, math.NaN()
		}

		opt.Step(grad)
		for j := range w {
			w[j] -= opt.Delta(j)
		}
		b -= opt.Delta(d)
	}
	return w, b, loss
}

// CheckSeparability fits a logistic probe to tell the negative half from the
// positive half of the normalized pair and reports its validation AUROC. High
// separability before calibration signals the direction may have latched onto
// phrasing rather than truth, which is why this runs label-free.
func (c *CCS) CheckSeparability(train, val *tensor.Activations) (float64, error) {
	if c.state == ccsUntrained {
		return 0, core.ErrNotFitted
	}
	trainRows, trainTargets, err := c.pairRows(train)
	if err != nil {
		return 0, err
	}
	valRows, valTargets, err := c.pairRows(val)
	if err != nil {
		return 0, err
	}

	clf := linear.NewClassifier(c.d)
	if _, err := clf.Fit(trainRows, trainTargets, linear.DefaultOptions()); err != nil {
		return 0, err
	}

	scores := make([]float64, len(valRows))
	targets := make([]bool, len(valRows))
	for i, row := range valRows {
		scores[i] = clf.Decision(row)
		targets[i] = valTargets[i] > 0.5
	}
	return eval.BinaryAUROC(scores, targets), nil
}

// pairRows normalizes both halves and stacks them with half-index targets.
func (c *CCS) pairRows(x *tensor.Activations) ([][]float64, []float64, error) {
	x0, x1, err := x.SplitPair()
	if err != nil {
		return nil, nil, err
	}
	neg, err := c.negNorm.Transform(x0)
	if err != nil {
		return nil, nil, err
	}
	pos, err := c.posNorm.Transform(x1)
	if err != nil {
		return nil, nil, err
	}
	rows := append(neg.Rows(), pos.Rows()...)
	targets := make([]float64, len(rows))
	for i := len(neg.Rows()); i < len(rows); i++ {
		targets[i] = 1
	}
	return rows, targets, nil
}

// rawScores projects every cell through the trained direction after applying
// the half-specific normalization.
func (c *CCS) rawScores(x *tensor.Activations) ([]float64, error) {
	if c.state == ccsUntrained {
		return nil, core.ErrNotFitted
	}
	if x.K != 2 {
		return nil, core.NewShapeError(fmt.Sprintf("ccs scores require K=2, got %d", x.K))
	}
	if x.D != c.d {
		return nil, core.NewWidthMismatchError("predict", c.d, x.D)
	}

	x0, x1, err := x.SplitPair()
	if err != nil {
		return nil, err
	}
	neg, err := c.negNorm.Transform(x0)
	if err != nil {
		return nil, err
	}
	pos, err := c.posNorm.Transform(x1)
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, x.N*x.V*2)
	for i := 0; i < x.N; i++ {
		for v := 0; v < x.V; v++ {
			out = append(out, c.score(neg.At(i, v)), c.score(pos.At(i, v)))
		}
	}
	return out, nil
}

func (c *CCS) score(row []float64) float64 {
	s := c.bias
	for j, wj := range c.weights {
		s += wj * row[j]
	}
	return s
}

// PlattScale fits the probability mapping on the frozen direction.
func (c *CCS) PlattScale(batches []tensor.LabeledBatch) error {
	if c.state == ccsUntrained {
		return core.ErrNotFitted
	}
	cal, err := fitPlatt(c, batches)
	if err != nil {
		return err
	}
	c.cal = cal
	c.state = ccsCalibrated
	return nil
}

// Predict returns calibrated per-cell probabilities.
func (c *CCS) Predict(x *tensor.Activations) (*tensor.Predictions, error) {
	raw, err := c.rawScores(x)
	if err != nil {
		return nil, err
	}
	return applyCalibration(x, raw, c.cal), nil
}

// Checkpoint captures the trained state.
func (c *CCS) Checkpoint(layer int) (*Checkpoint, error) {
	if c.state == ccsUntrained {
		return nil, core.ErrNotFitted
	}
	return &Checkpoint{
		Variant:     VariantCCS,
		Layer:       layer,
		HiddenSize:  c.d,
		Weights:     append([]float64(nil), c.weights...),
		Bias:        c.bias,
		TrainLoss:   c.loss,
		Calibration: c.cal,
		NegNorm:     c.negNorm,
		PosNorm:     c.posNorm,
	}, nil
}
