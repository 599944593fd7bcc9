package signals

import (
	"context"
	"errors"
	"fmt"
	"math"

	"FinAlloc/internal/domain/models"
	domsvc "FinAlloc/internal/domain/service"
	"FinAlloc/internal/services/features"
)

const (
	momentumShort = 20
	momentumLong  = 60
	rsiPeriod     = 14
	smaPeriod     = 20
	volWindow     = 20

	maxPredictedReturn = 0.5
	// annualized volatility at which confidence bottoms out
	volCeiling = 0.8
)

// MomentumModel is a deterministic factor model over cached daily history.
type MomentumModel struct {
	id      string
	history domsvc.HistorySource
	days    int
}

func NewMomentumModel(id string, history domsvc.HistorySource, historyDays int) *MomentumModel {
	if historyDays <= 0 {
		historyDays = 365
	}
	return &MomentumModel{id: id, history: history, days: historyDays}
}

func (m *MomentumModel) ID() string { return m.id }

// Predict scores every symbol that has at least momentumShort+1 bars.
// Symbols with too little history produce no signal.
func (m *MomentumModel) Predict(ctx context.Context, symbols []string, horizon int) ([]models.PredictionSignal, error) {
	out := make([]models.PredictionSignal, 0, len(symbols))
	var errs []error
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		series, _, err := m.history.History(ctx, sym, m.days)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		sig, ok := scoreMomentum(sym, series.Closes(), horizon)
		if !ok {
			continue
		}
		out = append(out, sig)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func scoreMomentum(symbol string, closes []float64, horizon int) (models.PredictionSignal, bool) {
	mom1m, ok := features.Momentum(closes, momentumShort)
	if !ok {
		return models.PredictionSignal{}, false
	}
	mom3m, _ := features.Momentum(closes, momentumLong)
	smaRatio, _ := features.SMARatio(closes, smaPeriod)
	rsi, hasRSI := features.RSI(closes, rsiPeriod)
	if !hasRSI {
		rsi = 50
	}

	// per-day drift in percent, blended across lookbacks
	daily := 0.5*mom1m/momentumShort + 0.3*mom3m/momentumLong + 0.2*smaRatio/smaPeriod
	// overbought names lean back toward the mean
	tilt := (50 - rsi) / 50 * 0.0002

	predicted := clamp((daily/100+tilt)*float64(horizon), -maxPredictedReturn, maxPredictedReturn)

	rets := features.LogReturns(closes)
	vol := features.RealizedVolatility(rets, min(volWindow, len(rets)), features.BarsPerYear(models.ResolutionDaily))
	coverage := math.Min(1, float64(len(closes))/momentumLong)
	confidence := clamp(1-vol/volCeiling, 0.1, 0.95) * coverage

	return models.PredictionSignal{
		Symbol:          symbol,
		PredictedReturn: predicted,
		Confidence:      confidence,
		Horizon:         horizon,
		Metadata: map[string]any{
			"momentum_1m":   mom1m,
			"momentum_3m":   mom3m,
			"sma_ratio":     smaRatio,
			"rsi":           rsi,
			"volatility_20": vol,
			"bars":          len(closes),
		},
	}, true
}

var _ domsvc.Model = (*MomentumModel)(nil)
