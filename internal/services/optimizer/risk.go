package optimizer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"FinAlloc/internal/domain/models"
)

const (
	// one-sided normal quantile and tail expectation at 95%
	z95    = 1.645
	cvar95 = 2.063

	tradingDays = 252

	flagMedium = 0.10
	flagHigh   = 0.20
)

// computeRisk derives portfolio statistics from the same covariance the
// optimizer used. Returns are horizon returns; rf is annual.
func computeRisk(syms []string, w, mu []float64, risk *RiskModel, rf float64) models.RiskMetrics {
	n := len(syms)
	if n == 0 {
		return models.RiskMetrics{}
	}
	sigma := risk.sub(syms)
	wv := mat.NewVecDense(n, append([]float64(nil), w...))
	variance := math.Max(0, mat.Inner(wv, sigma, wv))
	vol := math.Sqrt(variance)

	var expected, weightedVol, invested float64
	for i := range w {
		expected += w[i] * mu[i]
		weightedVol += w[i] * math.Sqrt(math.Max(0, sigma.At(i, i)))
		invested += w[i]
	}

	var hhi float64
	if invested > 0 {
		for _, x := range w {
			share := x / invested
			hhi += share * share
		}
	}

	m := models.RiskMetrics{
		ExpectedReturn: expected,
		Volatility:     vol,
		VaR95:          z95*vol - expected,
		CVaR95:         cvar95*vol - expected,
		Concentration:  hhi,
	}
	if vol > 0 {
		horizonRF := rf * float64(risk.Horizon) / tradingDays
		m.Sharpe = (expected - horizonRF) / vol
		m.Diversification = weightedVol / vol
	}
	return m
}

func concentrationFlags(syms []string, w []float64) []models.ConcentrationFlag {
	var flags []models.ConcentrationFlag
	for i, s := range syms {
		switch {
		case w[i] > flagHigh:
			flags = append(flags, models.ConcentrationFlag{Symbol: s, Weight: w[i], Severity: "high"})
		case w[i] > flagMedium:
			flags = append(flags, models.ConcentrationFlag{Symbol: s, Weight: w[i], Severity: "medium"})
		}
	}
	return flags
}
