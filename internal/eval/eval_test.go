package eval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/norabelrose/elk/domain/tensor"
)

func predsFrom(t *testing.T, n, v, k int, fill func(i, j, c int) float64) *tensor.Predictions {
	t.Helper()
	p := tensor.NewPredictions(n, v, k)
	for i := 0; i < n; i++ {
		for j := 0; j < v; j++ {
			for c := 0; c < k; c++ {
				p.Set(i, j, c, fill(i, j, c))
			}
		}
	}
	return p
}

func TestEvaluatePerfectPredictions(t *testing.T) {
	gt := tensor.Labels{0, 1, 0, 1}
	preds := predsFrom(t, 4, 2, 2, func(i, j, c int) float64 {
		if c == gt[i] {
			return 0.9
		}
		return 0.1
	})

	res, err := Evaluate(gt, preds)
	require.NoError(t, err)
	require.Equal(t, 1.0, res.Accuracy)
	require.Equal(t, 1.0, res.AUROC)
	require.InDelta(t, 0.9, res.MeanConfidence, 1e-12)
}

func TestEvaluateInvertedPredictions(t *testing.T) {
	gt := tensor.Labels{0, 1, 0, 1}
	preds := predsFrom(t, 4, 1, 2, func(i, j, c int) float64 {
		if c == gt[i] {
			return 0.1
		}
		return 0.9
	})

	res, err := Evaluate(gt, preds)
	require.NoError(t, err)
	require.Equal(t, 0.0, res.Accuracy)
	require.Equal(t, 0.0, res.AUROC)
}

func TestEvaluateVariantAveraging(t *testing.T) {
	// One confident correct variant should outvote one mildly wrong one.
	gt := tensor.Labels{1}
	preds := predsFrom(t, 1, 2, 2, func(i, j, c int) float64 {
		if j == 0 {
			if c == 1 {
				return 0.95
			}
			return 0.05
		}
		if c == 0 {
			return 0.6
		}
		return 0.4
	})

	res, err := Evaluate(gt, preds)
	require.NoError(t, err)
	require.Equal(t, 1.0, res.Accuracy)
}

func TestEvaluateSingleClassAUROCIsNaN(t *testing.T) {
	gt := tensor.Labels{1, 1, 1}
	preds := predsFrom(t, 3, 1, 2, func(i, j, c int) float64 { return 0.5 })

	res, err := Evaluate(gt, preds)
	require.NoError(t, err)
	require.True(t, math.IsNaN(res.AUROC))
	require.False(t, math.IsNaN(res.Accuracy))
}

func TestEvaluateLabelCountMismatch(t *testing.T) {
	preds := tensor.NewPredictions(3, 1, 2)
	_, err := Evaluate(tensor.Labels{0, 1}, preds)
	require.Error(t, err)
}

func TestBinaryAUROC(t *testing.T) {
	scores := []float64{0.1, 0.4, 0.35, 0.8}
	targets := []bool{false, false, true, true}
	// One of four positive/negative pairs is ranked the wrong way.
	require.InDelta(t, 0.75, BinaryAUROC(scores, targets), 1e-12)
}

func TestBinaryAUROCSingleClass(t *testing.T) {
	require.True(t, math.IsNaN(BinaryAUROC([]float64{1, 2}, []bool{true, true})))
}
