// Package eval scores calibrated predictions against ground truth.
package eval

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/integrate"
	gstat "gonum.org/v1/gonum/stat"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
)

// Result holds the metrics for one (dataset, layer) evaluation.
type Result struct {
	// Accuracy is the argmax match rate over variant-averaged probabilities.
	Accuracy float64
	// AUROC ranks prediction cells against their one-hot truth. NaN when the
	// ground truth contains a single class, where the metric is undefined.
	AUROC float64
	// MeanConfidence is the average probability assigned to the chosen cell.
	MeanConfidence float64
}

// Evaluate scores per-cell probabilities against the label vector. A
// single-class ground truth yields AUROC = NaN rather than an error, so one
// degenerate validation split cannot bring down a whole sweep.
func Evaluate(gt tensor.Labels, preds *tensor.Predictions) (*Result, error) {
	if len(gt) != preds.N {
		return nil, core.NewShapeError("label count does not match prediction rows")
	}

	correct := 0
	chosen := make([]float64, 0, preds.N)
	for i := 0; i < preds.N; i++ {
		best, bestScore := 0, math.Inf(-1)
		for k := 0; k < preds.K; k++ {
			score := 0.0
			for v := 0; v < preds.V; v++ {
				score += preds.At(i, v, k)
			}
			score /= float64(preds.V)
			if score > bestScore {
				best, bestScore = k, score
			}
		}
		if best == gt[i] {
			correct++
		}
		chosen = append(chosen, bestScore)
	}

	meanConf, err := stats.Mean(chosen)
	if err != nil {
		meanConf = math.NaN()
	}

	return &Result{
		Accuracy:       float64(correct) / float64(preds.N),
		AUROC:          cellAUROC(gt, preds),
		MeanConfidence: meanConf,
	}, nil
}

// cellAUROC computes the ranking metric over flattened (example, variant,
// choice) cells against their one-hot truth.
func cellAUROC(gt tensor.Labels, preds *tensor.Predictions) float64 {
	if gt.Classes() < 2 {
		return math.NaN()
	}

	type cell struct {
		score float64
		pos   bool
	}
	cells := make([]cell, 0, preds.N*preds.V*preds.K)
	var positives, negatives int
	for i := 0; i < preds.N; i++ {
		for v := 0; v < preds.V; v++ {
			for k := 0; k < preds.K; k++ {
				pos := gt[i] == k
				if pos {
					positives++
				} else {
					negatives++
				}
				cells = append(cells, cell{score: preds.At(i, v, k), pos: pos})
			}
		}
	}
	if positives == 0 || negatives == 0 {
		return math.NaN()
	}

	sort.Slice(cells, func(i, j int) bool { return cells[i].score < cells[j].score })
	y := make([]float64, len(cells))
	classes := make([]bool, len(cells))
	for i, c := range cells {
		y[i] = c.score
		classes[i] = c.pos
	}
	tpr, fpr, _ := gstat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// BinaryAUROC ranks raw scores against binary targets; used for the
// separability proxy. NaN when only one target class is present.
func BinaryAUROC(scores []float64, targets []bool) float64 {
	var positives, negatives int
	for _, t := range targets {
		if t {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return math.NaN()
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })
	y := make([]float64, len(scores))
	classes := make([]bool, len(scores))
	for i, j := range idx {
		y[i] = scores[j]
		classes[i] = targets[j]
	}
	tpr, fpr, _ := gstat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}
