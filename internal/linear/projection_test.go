package linear

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjectionRemovesDirection(t *testing.T) {
	var p Projection
	p.Add([]float64{2, 0, 0})

	out := p.Apply([]float64{3, 4, 5})
	require.InDeltaSlice(t, []float64{0, 4, 5}, out, 1e-12)
}

func TestProjectionOrthonormalizes(t *testing.T) {
	var p Projection
	p.Add([]float64{1, 0})
	p.Add([]float64{1, 1}) // only the orthogonal component should be kept

	require.Len(t, p.Dirs, 2)
	require.InDelta(t, 0, p.Dirs[1][0], 1e-12)
	require.InDelta(t, 1, math.Abs(p.Dirs[1][1]), 1e-12)
}

func TestProjectionDropsContainedDirection(t *testing.T) {
	var p Projection
	p.Add([]float64{0, 1, 0})
	p.Add([]float64{0, 2, 0})
	require.Len(t, p.Dirs, 1)
}

func TestProjectionFullRankZeroesEverything(t *testing.T) {
	var p Projection
	p.Add([]float64{1, 0})
	p.Add([]float64{0, 1})

	for _, row := range p.ApplyAll([][]float64{{3, -2}, {0.5, 9}}) {
		for _, v := range row {
			require.InDelta(t, 0, v, 1e-12)
		}
	}
}
