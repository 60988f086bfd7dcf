package calibration

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFitPreservesRanking(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	scores := make([]float64, 200)
	targets := make([]float64, 200)
	for i := range scores {
		scores[i] = rng.NormFloat64() * 3
		// Noisy but monotone relationship between score and label.
		if scores[i]+rng.NormFloat64() > 0 {
			targets[i] = 1
		}
	}

	params, err := Fit(scores, targets)
	require.NoError(t, err)
	require.Greater(t, params.Scale, 0.0)

	calibrated := make([]float64, len(scores))
	for i, s := range scores {
		calibrated[i] = params.Apply(s)
	}
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })
	for i := 1; i < len(order); i++ {
		require.LessOrEqual(t, calibrated[order[i-1]], calibrated[order[i]])
	}
}

func TestFitLearnsNegativeScaleOnInvertedScores(t *testing.T) {
	// A probe direction may come out sign-flipped; calibration fixes it.
	scores := make([]float64, 100)
	targets := make([]float64, 100)
	for i := range scores {
		if i%2 == 0 {
			scores[i], targets[i] = 2, 0
		} else {
			scores[i], targets[i] = -2, 1
		}
	}
	params, err := Fit(scores, targets)
	require.NoError(t, err)
	require.Less(t, params.Scale, 0.0)
	require.Greater(t, params.Apply(-2), 0.5)
	require.Less(t, params.Apply(2), 0.5)
}

func TestFitShapeMismatch(t *testing.T) {
	_, err := Fit([]float64{1, 2}, []float64{1})
	require.Error(t, err)
	_, err = Fit(nil, nil)
	require.Error(t, err)
}

func TestIdentityApply(t *testing.T) {
	p := Identity()
	require.InDelta(t, 0.5, p.Apply(0), 1e-12)
	require.Greater(t, p.Apply(3), 0.95)
	require.Less(t, p.Apply(-3), 0.05)
}
