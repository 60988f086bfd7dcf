package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/norabelrose/elk/internal/calibration"
	"github.com/norabelrose/elk/internal/linear"
	"github.com/norabelrose/elk/internal/reporter"
	"github.com/norabelrose/elk/ports"
)

func TestReporterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ctx := context.Background()

	cp := &reporter.Checkpoint{
		Variant:     reporter.VariantEigen,
		Layer:       12,
		HiddenSize:  3,
		Weights:     []float64{0.1, -0.2, 0.97},
		EigenValue:  1.5,
		Calibration: calibration.Params{Scale: 2, Bias: -0.1},
	}
	require.NoError(t, store.SaveReporter(ctx, cp))

	loaded, err := store.LoadReporter(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, cp, loaded)

	_, err = os.Stat(filepath.Join(dir, "reporters", "layer_12.json"))
	require.NoError(t, err)
}

func TestSaveConfigLandsBesideLayers(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	cfg := reporter.DefaultConfig()
	require.NoError(t, store.SaveConfig(context.Background(), cfg))

	_, err := os.Stat(filepath.Join(dir, "reporters", "cfg.json"))
	require.NoError(t, err)
}

func TestSaveBaseline(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	models := []ports.BaselineModel{{
		Model: &linear.Classifier{Weights: []float64{1, 2}, Bias: 0.5},
		L2:    1e-3,
	}}
	require.NoError(t, store.SaveBaseline(context.Background(), 3, models))

	_, err := os.Stat(filepath.Join(dir, "lr_models", "layer_3.json"))
	require.NoError(t, err)
}

func TestLoadMissingLayer(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.LoadReporter(context.Background(), 99)
	require.Error(t, err)
}
