package features

import (
	"math"

	"github.com/markcheno/go-talib"

	"FinAlloc/internal/domain/models"
)

// LogReturns computes r_t = ln(C_t / C_{t-1}) over closes. Non-positive
// prices yield a zero return. Nil when fewer than two closes.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		cur := closes[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// SimpleReturns computes C_t / C_{t-1} - 1 over closes.
func SimpleReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// RealizedVolatility computes annualized realized volatility over the last
// window returns using the provided number of bars per year.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(logReturns) - window; i < len(logReturns); i++ {
		r := logReturns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

// BarsPerYear returns the number of trading bars per year for a resolution.
func BarsPerYear(res models.Resolution) float64 {
	switch res {
	case models.ResolutionWeekly:
		return 52
	default:
		return 252
	}
}

// Momentum returns the percentage change over the last lookback bars, or
// false when the series is too short.
func Momentum(closes []float64, lookback int) (float64, bool) {
	if lookback <= 0 || len(closes) <= lookback {
		return 0, false
	}
	past := closes[len(closes)-1-lookback]
	if past <= 0 {
		return 0, false
	}
	return (closes[len(closes)-1]/past - 1) * 100, true
}

// RSI returns the latest Wilder RSI value.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	return last(talib.Rsi(closes, period))
}

// SMARatio returns the percentage distance of the last close from its
// simple moving average.
func SMARatio(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	sma, ok := last(talib.Sma(closes, period))
	if !ok || sma == 0 {
		return 0, false
	}
	return (closes[len(closes)-1]/sma - 1) * 100, true
}

func last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
