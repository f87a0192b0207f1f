package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile(t *testing.T) {
	vals := []float64{4, 1, 3, 2}
	assert.InDelta(t, 2.5, Median(vals), 1e-12)
	assert.InDelta(t, 3.25, Quantile(vals, 0.75), 1e-12)
	assert.InDelta(t, 1.0, Quantile(vals, 0), 1e-12)
	assert.InDelta(t, 4.0, Quantile(vals, 1), 1e-12)
	assert.Equal(t, []float64{4, 1, 3, 2}, vals, "input must not be sorted in place")
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestPopStdDev(t *testing.T) {
	assert.InDelta(t, 2.0, PopStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-12)
	assert.Equal(t, 0.0, PopStdDev([]float64{3, 3, 3}))
}

func TestPearson(t *testing.T) {
	assert.InDelta(t, 1.0, Pearson([]float64{1, 2, 3}, []float64{2, 4, 6}, 1e-12), 1e-12)
	assert.InDelta(t, -1.0, Pearson([]float64{1, 2, 3}, []float64{3, 2, 1}, 1e-12), 1e-12)
	assert.True(t, math.IsNaN(Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}, 1e-12)))
	assert.True(t, math.IsNaN(Pearson([]float64{1, math.NaN()}, []float64{1, 2}, 1e-12)))
}

func TestHHI(t *testing.T) {
	assert.InDelta(t, 0.5, HHI([]float64{1, 1}), 1e-12)
	assert.InDelta(t, 1.0, HHI([]float64{0, 5}), 1e-12)
	assert.True(t, math.IsNaN(HHI([]float64{0, 0})))
}

func TestNormalCDF(t *testing.T) {
	assert.Equal(t, 0.5, NormalCDF(0))
	assert.InDelta(t, 0.975, NormalCDF(1.959964), 1e-6)
}

func TestLogBeta(t *testing.T) {
	// B(1,1) = 1, B(2,3) = 1/12
	assert.InDelta(t, 0.0, LogBeta(1, 1), 1e-12)
	assert.InDelta(t, math.Log(1.0/12.0), LogBeta(2, 3), 1e-12)
}

func TestClip(t *testing.T) {
	assert.Equal(t, 1.0, Clip(5, 0, 1))
	assert.Equal(t, 0.0, Clip(-5, 0, 1))
	assert.Equal(t, 0.3, Clip(0.3, 0, 1))
}

func TestDefined(t *testing.T) {
	assert.Nil(t, Defined(math.NaN()))
	assert.Nil(t, Defined(math.Inf(1)))
	v := Defined(0.25)
	if assert.NotNil(t, v) {
		assert.Equal(t, 0.25, *v)
	}
}
