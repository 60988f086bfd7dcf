package covariance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
)

func randomBatch(t *testing.T, n, v, k, d int, rng *rand.Rand) *tensor.Activations {
	t.Helper()
	x, err := tensor.NewActivations(n, v, k, d)
	require.NoError(t, err)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	// Push the classes apart so the between-class scatter is non-trivial.
	for i := 0; i < n; i++ {
		for vi := 0; vi < v; vi++ {
			for ki := 0; ki < k; ki++ {
				row := x.At(i, vi, ki)
				for ti := range row {
					row[ti] += float64(ki) * 1.5
				}
			}
		}
	}
	return x
}

// sliceBatch carves examples [lo, hi) out of a batch.
func sliceBatch(t *testing.T, x *tensor.Activations, lo, hi int) *tensor.Activations {
	t.Helper()
	out, err := tensor.NewActivations(hi-lo, x.V, x.K, x.D)
	require.NoError(t, err)
	for i := lo; i < hi; i++ {
		for v := 0; v < x.V; v++ {
			for k := 0; k < x.K; k++ {
				copy(out.At(i-lo, v, k), x.At(i, v, k))
			}
		}
	}
	return out
}

func finalizeSplits(t *testing.T, x *tensor.Activations, cuts []int) *Stats {
	t.Helper()
	acc, err := New(x.D, 0)
	require.NoError(t, err)
	lo := 0
	for _, hi := range cuts {
		require.NoError(t, acc.Update(sliceBatch(t, x, lo, hi)))
		lo = hi
	}
	require.NoError(t, acc.Update(sliceBatch(t, x, lo, x.N)))
	stats, err := acc.Finalize()
	require.NoError(t, err)
	return stats
}

func requireSymEqual(t *testing.T, want, got *mat.SymDense, tol float64) {
	t.Helper()
	d := want.SymmetricDim()
	require.Equal(t, d, got.SymmetricDim())
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			if math.Abs(want.At(i, j)-got.At(i, j)) > tol {
				t.Fatalf("matrix mismatch at (%d, %d): %g vs %g", i, j, want.At(i, j), got.At(i, j))
			}
		}
	}
}

func TestAccumulator_SplitInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x := randomBatch(t, 64, 3, 2, 6, rng)

	whole := finalizeSplits(t, x, nil)
	halves := finalizeSplits(t, x, []int{32})
	quarters := finalizeSplits(t, x, []int{16, 32, 48})
	uneven := finalizeSplits(t, x, []int{5, 9, 40, 63})

	for _, stats := range []*Stats{halves, quarters, uneven} {
		requireSymEqual(t, whole.BetweenClass, stats.BetweenClass, 1e-10)
		requireSymEqual(t, whole.Invariance, stats.Invariance, 1e-10)
		require.Equal(t, whole.Count, stats.Count)
	}
}

func TestAccumulator_OrderInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	x := randomBatch(t, 48, 2, 2, 5, rng)

	a := sliceBatch(t, x, 0, 20)
	b := sliceBatch(t, x, 20, 48)

	accAB, err := New(x.D, 0)
	require.NoError(t, err)
	require.NoError(t, accAB.Update(a))
	require.NoError(t, accAB.Update(b))
	statsAB, err := accAB.Finalize()
	require.NoError(t, err)

	accBA, err := New(x.D, 0)
	require.NoError(t, err)
	require.NoError(t, accBA.Update(b))
	require.NoError(t, accBA.Update(a))
	statsBA, err := accBA.Finalize()
	require.NoError(t, err)

	requireSymEqual(t, statsAB.BetweenClass, statsBA.BetweenClass, 1e-10)
	requireSymEqual(t, statsAB.Invariance, statsBA.Invariance, 1e-10)
}

func TestAccumulator_HeterogeneousChoiceCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	acc, err := New(7, 0)
	require.NoError(t, err)

	require.NoError(t, acc.Update(randomBatch(t, 30, 2, 2, 7, rng)))
	require.NoError(t, acc.Update(randomBatch(t, 20, 3, 4, 7, rng)))

	stats, err := acc.Finalize()
	require.NoError(t, err)
	require.Equal(t, 50, stats.Count)
	require.Nil(t, stats.ClassMeans)
	require.Equal(t, 7, stats.BetweenClass.SymmetricDim())
}

func TestAccumulator_FixedClassCountRejectsMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(14))
	acc, err := New(4, 2)
	require.NoError(t, err)

	require.NoError(t, acc.Update(randomBatch(t, 10, 2, 2, 4, rng)))

	err = acc.Update(randomBatch(t, 10, 2, 3, 4, rng))
	require.ErrorIs(t, err, core.ErrClassCountMismatch)
	require.True(t, core.IsConfigError(err))
}

func TestAccumulator_WidthMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(15))
	acc, err := New(4, 0)
	require.NoError(t, err)

	err = acc.Update(randomBatch(t, 10, 2, 2, 5, rng))
	require.ErrorIs(t, err, core.ErrWidthMismatch)
}

func TestAccumulator_ClassMeansSeparate(t *testing.T) {
	rng := rand.New(rand.NewSource(16))
	x := randomBatch(t, 100, 2, 2, 3, rng)

	acc, err := New(3, 2)
	require.NoError(t, err)
	require.NoError(t, acc.Update(x))
	stats, err := acc.Finalize()
	require.NoError(t, err)

	require.Len(t, stats.ClassMeans, 6)
	// Class 1 was shifted +1.5 in every coordinate relative to class 0.
	for tdx := 0; tdx < 3; tdx++ {
		gap := stats.ClassMeans[3+tdx] - stats.ClassMeans[tdx]
		require.InDelta(t, 1.5, gap, 0.2)
	}
}

func TestAccumulator_FinalizeWithoutUpdate(t *testing.T) {
	acc, err := New(4, 0)
	require.NoError(t, err)
	_, err = acc.Finalize()
	require.True(t, core.IsConfigError(err))
}
