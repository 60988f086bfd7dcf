package reporter

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
	"github.com/norabelrose/elk/internal/eval"
)

func newStreaming(t *testing.T, cfg Config, d int) StreamingFitter {
	t.Helper()
	r, err := New(cfg, d)
	require.NoError(t, err)
	fitter, ok := r.(StreamingFitter)
	require.True(t, ok)
	return fitter
}

func TestEigenRecoversPlantedDirection(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	xTrain, yTrain := plantedBatch(rng, 200, 4, 2, 8, 2)
	xVal, yVal := plantedBatch(rng, 100, 4, 2, 8, 2)

	cfg := Config{Variant: VariantEigen, Seed: 42}
	cfg.Eigen.NumClasses = 2
	fitter := newStreaming(t, cfg, 8)

	// Feed the training set in four chunks to exercise the streaming path.
	for c := 0; c < 4; c++ {
		chunk, err := tensor.FromData(50, 4, 2, 8, xTrain.Data[c*50*4*2*8:(c+1)*50*4*2*8])
		require.NoError(t, err)
		require.NoError(t, fitter.Update(chunk))
	}

	lambda, err := fitter.FitStreaming()
	require.NoError(t, err)
	require.False(t, math.IsNaN(lambda))
	require.Greater(t, lambda, 0.0)

	require.NoError(t, fitter.PlattScale([]tensor.LabeledBatch{{Name: "imdb", X: xTrain, Labels: yTrain}}))

	preds, err := fitter.Predict(xVal)
	require.NoError(t, err)
	res, err := eval.Evaluate(yVal, preds)
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Accuracy, 0.9)
	require.GreaterOrEqual(t, res.AUROC, 0.9)
}

func TestEigenDifferenceObjective(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	xTrain, yTrain := plantedBatch(rng, 200, 4, 2, 8, 2)
	xVal, yVal := plantedBatch(rng, 100, 4, 2, 8, 2)

	cfg := Config{Variant: VariantEigen, Seed: 42}
	cfg.Eigen.NumClasses = 2
	cfg.Eigen.UseDifference = true
	fitter := newStreaming(t, cfg, 8)

	require.NoError(t, fitter.Update(xTrain))
	_, err := fitter.FitStreaming()
	require.NoError(t, err)
	require.NoError(t, fitter.PlattScale([]tensor.LabeledBatch{{Name: "imdb", X: xTrain, Labels: yTrain}}))

	preds, err := fitter.Predict(xVal)
	require.NoError(t, err)
	res, err := eval.Evaluate(yVal, preds)
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Accuracy, 0.9)
}

func TestEigenPoolsHeterogeneousChoiceCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	binary, _ := plantedBatch(rng, 60, 2, 2, 8, 2)
	fourWay, _ := plantedBatch(rng, 60, 2, 4, 8, 2)

	fitter := newStreaming(t, Config{Variant: VariantEigen, Seed: 1}, 8)
	require.NoError(t, fitter.Update(binary))
	require.NoError(t, fitter.Update(fourWay))

	lambda, err := fitter.FitStreaming()
	require.NoError(t, err)
	require.False(t, math.IsNaN(lambda))
}

func TestEigenUpdateAfterSolve(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	x, _ := plantedBatch(rng, 20, 2, 2, 4, 2)

	fitter := newStreaming(t, Config{Variant: VariantEigen, Seed: 1}, 4)
	require.NoError(t, fitter.Update(x))
	_, err := fitter.FitStreaming()
	require.NoError(t, err)
	require.ErrorIs(t, fitter.Update(x), core.ErrAlreadyFitted)
}

func TestEigenPredictBeforeFit(t *testing.T) {
	rng := rand.New(rand.NewSource(14))
	x, _ := plantedBatch(rng, 10, 2, 2, 4, 2)

	fitter := newStreaming(t, Config{Variant: VariantEigen, Seed: 1}, 4)
	_, err := fitter.Predict(x)
	require.ErrorIs(t, err, core.ErrNotFitted)
}

func TestEigenFinalizeWithoutData(t *testing.T) {
	fitter := newStreaming(t, Config{Variant: VariantEigen, Seed: 1}, 4)
	_, err := fitter.FitStreaming()
	require.Error(t, err)
	require.True(t, core.IsConfigError(err))
}

func TestCheckpointRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(15))
	xTrain, yTrain := plantedBatch(rng, 100, 2, 2, 8, 2)
	xVal, _ := plantedBatch(rng, 40, 2, 2, 8, 2)
	train := []tensor.LabeledBatch{{Name: "imdb", X: xTrain, Labels: yTrain}}

	for name, build := range map[string]func(t *testing.T) Reporter{
		"ccs": func(t *testing.T) Reporter {
			fitter := newContrastive(t, 8)
			_, err := fitter.Fit(train)
			require.NoError(t, err)
			require.NoError(t, fitter.PlattScale(train))
			return fitter
		},
		"eigen": func(t *testing.T) Reporter {
			cfg := Config{Variant: VariantEigen, Seed: 42}
			cfg.Eigen.NumClasses = 2
			fitter := newStreaming(t, cfg, 8)
			require.NoError(t, fitter.Update(xTrain))
			_, err := fitter.FitStreaming()
			require.NoError(t, err)
			require.NoError(t, fitter.PlattScale(train))
			return fitter
		},
	} {
		t.Run(name, func(t *testing.T) {
			trained := build(t)
			cp, err := trained.Checkpoint(7)
			require.NoError(t, err)
			require.Equal(t, 7, cp.Layer)
			require.Equal(t, 8, cp.HiddenSize)

			blob, err := json.Marshal(cp)
			require.NoError(t, err)
			var restored Checkpoint
			require.NoError(t, json.Unmarshal(blob, &restored))

			loaded, err := restored.Reporter()
			require.NoError(t, err)
			require.Equal(t, trained.Variant(), loaded.Variant())

			want, err := trained.Predict(xVal)
			require.NoError(t, err)
			got, err := loaded.Predict(xVal)
			require.NoError(t, err)
			require.InDeltaSlice(t, want.Data, got.Data, 1e-12)
		})
	}
}
