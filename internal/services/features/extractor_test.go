package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestLogReturns(t *testing.T) {
	closes := []float64{100, 110, 0}
	r := LogReturns(closes)
	require.Len(t, r, 2)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.Equal(t, 0.0, r[1])
	assert.Nil(t, LogReturns(closes[:1]))
}

func TestRealizedVolatilityFlatSeries(t *testing.T) {
	r := make([]float64, 30)
	assert.Equal(t, 0.0, RealizedVolatility(r, 20, 252))
	assert.Equal(t, 0.0, RealizedVolatility(r[:5], 20, 252))
}

func TestRealizedVolatilityAlternating(t *testing.T) {
	r := make([]float64, 20)
	for i := range r {
		if i%2 == 0 {
			r[i] = 0.01
		} else {
			r[i] = -0.01
		}
	}
	// sample variance of ±0.01 with mean 0 over 20 points
	want := math.Sqrt(20 * 0.0001 / 19 * 252)
	assert.InDelta(t, want, RealizedVolatility(r, 20, 252), 1e-12)
}

func TestMomentum(t *testing.T) {
	closes := ramp(30, 100, 1)
	m, ok := Momentum(closes, 20)
	require.True(t, ok)
	assert.InDelta(t, (129.0/109.0-1)*100, m, 1e-9)

	_, ok = Momentum(closes[:10], 20)
	assert.False(t, ok)
}

func TestRSIRisingSeries(t *testing.T) {
	rsi, ok := RSI(ramp(40, 100, 1), 14)
	require.True(t, ok)
	assert.InDelta(t, 100, rsi, 1e-9)

	_, ok = RSI(ramp(10, 100, 1), 14)
	assert.False(t, ok)
}

func TestSMARatio(t *testing.T) {
	closes := ramp(20, 100, 0)
	closes = append(closes, 121)
	ratio, ok := SMARatio(closes, 20)
	require.True(t, ok)
	// SMA over the last 20 closes = (19*100 + 121) / 20
	sma := (19*100.0 + 121) / 20
	assert.InDelta(t, (121/sma-1)*100, ratio, 1e-9)
}

func TestBarsPerYear(t *testing.T) {
	assert.Equal(t, 252.0, BarsPerYear(models.ResolutionDaily))
	assert.Equal(t, 52.0, BarsPerYear(models.ResolutionWeekly))
}
