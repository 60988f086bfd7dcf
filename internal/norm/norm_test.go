package norm

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/norabelrose/elk/domain/core"
	"github.com/norabelrose/elk/domain/tensor"
)

func randomSlab(t *testing.T, n, v, d int, seed int64) *tensor.Slab {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n*v*d)
	for i := range data {
		// Uneven offsets and spread per position so centering actually matters
		data[i] = rng.NormFloat64()*3.5 + float64(i%7)
	}
	return &tensor.Slab{N: n, V: v, D: d, Data: data}
}

func TestNormalizer_CenteringZeroesMean(t *testing.T) {
	x := randomSlab(t, 40, 3, 6, 1)

	out, err := New(true).FitTransform(x)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	for v := 0; v < x.V; v++ {
		for d := 0; d < x.D; d++ {
			sum := 0.0
			for i := 0; i < x.N; i++ {
				sum += out.At(i, v)[d]
			}
			mean := sum / float64(x.N)
			if math.Abs(mean) > 1e-9 {
				t.Errorf("mean over examples at (v=%d, d=%d) = %g, want ~0", v, d, mean)
			}
		}
	}
}

func TestNormalizer_UnitAverageScalePerVariant(t *testing.T) {
	x := randomSlab(t, 50, 4, 8, 2)

	out, err := New(true).FitTransform(x)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	for v := 0; v < x.V; v++ {
		avg := 0.0
		for d := 0; d < x.D; d++ {
			ss := 0.0
			for i := 0; i < x.N; i++ {
				val := out.At(i, v)[d]
				ss += val * val
			}
			avg += math.Sqrt(ss / float64(x.N))
		}
		avg /= float64(x.D)
		if math.Abs(avg-1) > 1e-9 {
			t.Errorf("average RMS for variant %d = %g, want ~1", v, avg)
		}
	}
}

func TestNormalizer_ScaleDisabledOnlyCenters(t *testing.T) {
	x := randomSlab(t, 30, 2, 5, 3)

	n := New(false)
	out, err := n.FitTransform(x)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	for i := 0; i < x.N; i++ {
		for v := 0; v < x.V; v++ {
			for d := 0; d < x.D; d++ {
				want := x.At(i, v)[d] - n.Mu[v*x.D+d]
				if math.Abs(out.At(i, v)[d]-want) > 1e-12 {
					t.Fatalf("scale disabled but value rescaled at (%d, %d, %d)", i, v, d)
				}
			}
		}
	}
}

func TestNormalizer_InputUntouched(t *testing.T) {
	x := randomSlab(t, 20, 2, 4, 4)
	before := make([]float64, len(x.Data))
	copy(before, x.Data)

	if _, err := New(true).FitTransform(x); err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	for i := range before {
		if x.Data[i] != before[i] {
			t.Fatal("input slab was mutated")
		}
	}
}

func TestNormalizer_RejectsSingleExample(t *testing.T) {
	x := &tensor.Slab{N: 1, V: 2, D: 3, Data: make([]float64, 6)}

	err := New(true).Fit(x)
	if !errors.Is(err, core.ErrTooFewExamples) {
		t.Fatalf("expected too-few-examples error, got %v", err)
	}
	if !core.IsConfigError(err) {
		t.Errorf("single-example rejection should be a configuration error")
	}
}

func TestNormalizer_TrainStatsApplyToValidation(t *testing.T) {
	train := randomSlab(t, 60, 2, 4, 5)
	val := randomSlab(t, 10, 2, 4, 6)

	n := New(true)
	if _, err := n.FitTransform(train); err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	out, err := n.Transform(val)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	// Validation output must be a deterministic function of the train stats.
	want := (val.At(3, 1)[2] - n.Mu[1*4+2]) / n.Sigma[1]
	if math.Abs(out.At(3, 1)[2]-want) > 1e-12 {
		t.Errorf("validation transform did not reuse fitted statistics")
	}
}
