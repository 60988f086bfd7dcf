// Package supervised trains the labeled logistic baseline that the
// unsupervised probes are judged against.
package supervised

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
	"github.com/norabelrose/elk/internal/linear"
	"github.com/norabelrose/elk/ports"
)

// Trainer implements ports.SupervisedPort. Every mode reduces to binary
// classification over flattened (example, variant, choice) cells against
// their one-hot truth, which handles any choice count uniformly.
type Trainer struct {
	opts linear.Options

	// MaxINLPIters bounds how many directions inlp mode removes.
	MaxINLPIters int
	// CVGrid lists the L2 penalties tried by cv mode.
	CVGrid []float64
	// CVFolds is the number of cross-validation folds.
	CVFolds int
}

// NewTrainer creates a trainer with the standard settings.
func NewTrainer() *Trainer {
	return &Trainer{
		opts:         linear.DefaultOptions(),
		MaxINLPIters: 5,
		CVGrid:       []float64{1e-4, 1e-3, 1e-2, 1e-1},
		CVFolds:      5,
	}
}

// Train fits the baseline for one layer. The returned slice is empty in none
// mode, has one entry in single and cv modes and one entry per removed
// direction in inlp mode.
func (t *Trainer) Train(ctx context.Context, mode ports.SupervisedMode, batches []tensor.LabeledBatch) ([]ports.BaselineModel, error) {
	if !mode.Valid() {
		return nil, core.NewConfigError(fmt.Sprintf("unknown supervised mode %q", mode))
	}
	if mode == ports.SupervisedNone {
		return nil, nil
	}

	rows, targets, d, err := cellRows(batches)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ports.SupervisedSingle:
		model, err := t.fitOne(rows, targets, d, t.opts)
		if err != nil {
			return nil, err
		}
		return []ports.BaselineModel{model}, nil
	case ports.SupervisedINLP:
		return t.fitINLP(ctx, rows, targets, d)
	case ports.SupervisedCV:
		return t.fitCV(ctx, rows, targets, d)
	}
	return nil, core.NewConfigError(fmt.Sprintf("unhandled supervised mode %q", mode))
}

func (t *Trainer) fitOne(rows [][]float64, targets []float64, d int, opts linear.Options) (ports.BaselineModel, error) {
	clf := linear.NewClassifier(d)
	loss, err := clf.Fit(rows, targets, opts)
	if err != nil {
		return ports.BaselineModel{}, err
	}
	return ports.BaselineModel{Model: clf, L2: opts.L2, TrainLoss: loss}, nil
}

// fitINLP repeatedly fits a probe and projects its direction out of the
// features, so later iterations can only use whatever signal remains.
func (t *Trainer) fitINLP(ctx context.Context, rows [][]float64, targets []float64, d int) ([]ports.BaselineModel, error) {
	proj := &linear.Projection{}
	models := make([]ports.BaselineModel, 0, t.MaxINLPIters)

	for iter := 0; iter < t.MaxINLPIters; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		projected := proj.ApplyAll(rows)
		clf := linear.NewClassifier(d)
		loss, err := clf.Fit(projected, targets, t.opts)
		if err != nil {
			return nil, err
		}
		models = append(models, ports.BaselineModel{
			Iteration:  iter,
			Model:      clf,
			Projection: proj.Clone(),
			L2:         t.opts.L2,
			TrainLoss:  loss,
		})

		before := len(proj.Dirs)
		proj.Add(clf.Direction())
		if len(proj.Dirs) == before {
			// The new direction fell inside the removed subspace; nothing
			// left to strip.
			break
		}
	}
	return models, nil
}

// fitCV picks the L2 penalty with the lowest mean held-out loss, then refits
// on everything.
func (t *Trainer) fitCV(ctx context.Context, rows [][]float64, targets []float64, d int) ([]ports.BaselineModel, error) {
	folds := t.CVFolds
	if folds > len(rows) {
		folds = len(rows)
	}
	if folds < 2 {
		return nil, fmt.Errorf("%w: %d rows cannot be cross-validated", core.ErrTooFewExamples, len(rows))
	}

	bestL2, bestLoss := t.CVGrid[0], math.Inf(1)
	for _, l2 := range t.CVGrid {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opts := t.opts
		opts.L2 = l2

		var total float64
		for fold := 0; fold < folds; fold++ {
			trainRows, trainTargets, valRows, valTargets := splitFold(rows, targets, fold, folds)
			clf := linear.NewClassifier(d)
			if _, err := clf.Fit(trainRows, trainTargets, opts); err != nil {
				return nil, err
			}
			total += heldOutLoss(clf, valRows, valTargets)
		}
		mean := total / float64(folds)
		if mean < bestLoss {
			bestL2, bestLoss = l2, mean
		}
	}
	log.Printf("[Supervised] cv selected l2=%g (held-out loss %.5f)", bestL2, bestLoss)

	opts := t.opts
	opts.L2 = bestL2
	model, err := t.fitOne(rows, targets, d, opts)
	if err != nil {
		return nil, err
	}
	return []ports.BaselineModel{model}, nil
}

// cellRows flattens every batch into per-cell rows with one-hot targets,
// checking the shared hidden width.
func cellRows(batches []tensor.LabeledBatch) ([][]float64, []float64, int, error) {
	if len(batches) == 0 {
		return nil, nil, 0, core.NewConfigError("supervised training needs at least one dataset")
	}
	d := batches[0].X.D
	var rows [][]float64
	var targets []float64
	for _, b := range batches {
		if b.X.D != d {
			return nil, nil, 0, core.NewWidthMismatchError(b.Name, d, b.X.D)
		}
		if err := b.Labels.Validate(b.X); err != nil {
			return nil, nil, 0, err
		}
		rows = append(rows, b.X.Rows()...)
		targets = append(targets, b.Labels.OneHotCells(b.X.V, b.X.K)...)
	}
	return rows, targets, d, nil
}

// splitFold carves out the fold-th stride as validation.
func splitFold(rows [][]float64, targets []float64, fold, folds int) ([][]float64, []float64, [][]float64, []float64) {
	var trainRows, valRows [][]float64
	var trainTargets, valTargets []float64
	for i := range rows {
		if i%folds == fold {
			valRows = append(valRows, rows[i])
			valTargets = append(valTargets, targets[i])
		} else {
			trainRows = append(trainRows, rows[i])
			trainTargets = append(trainTargets, targets[i])
		}
	}
	return trainRows, trainTargets, valRows, valTargets
}

func heldOutLoss(clf *linear.Classifier, rows [][]float64, targets []float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	var loss float64
	for i, p := range clf.Predict(rows) {
		const eps = 1e-12
		p = math.Min(math.Max(p, eps), 1-eps)
		if targets[i] > 0.5 {
			loss -= math.Log(p)
		} else {
			loss -= math.Log(1 - p)
		}
	}
	return loss / float64(len(rows))
}
