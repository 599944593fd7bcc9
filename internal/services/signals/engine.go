package signals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/service/metrics"
	applogger "FinAlloc/pkg/logger"
)

const (
	// DefaultHorizon is used when a caller passes a non-positive horizon.
	DefaultHorizon = 20

	bullThreshold = 0.02
	bearThreshold = -0.02
)

// Engine asks registered models for predictions. It never blends models;
// ensembling belongs to the optimizer.
type Engine struct {
	registry *Registry
	timeout  time.Duration
	logger   *applogger.Logger
	now      func() time.Time
}

func NewEngine(registry *Registry, timeout time.Duration, l *applogger.Logger) *Engine {
	if l == nil {
		l = applogger.Nop()
	}
	metrics.Register()
	return &Engine{
		registry: registry,
		timeout:  timeout,
		logger:   l.Component("signal_engine"),
		now:      time.Now,
	}
}

// Registry exposes the model registry for state queries.
func (e *Engine) Registry() *Registry { return e.registry }

// GenerateSignals returns ranked signals for symbols from one model. A model
// that is not trained yields a *models.SignalError wrapping ErrModelUnavailable.
func (e *Engine) GenerateSignals(ctx context.Context, symbols []string, modelID string, horizon int) ([]models.PredictionSignal, error) {
	model, state, err := e.registry.Lookup(modelID)
	if err != nil {
		return nil, err
	}
	if state.Lifecycle != models.ModelTrained {
		return nil, &models.SignalError{ModelID: modelID, Lifecycle: state.Lifecycle, Err: models.ErrModelUnavailable}
	}
	if len(symbols) == 0 {
		return []models.PredictionSignal{}, nil
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := model.Predict(ctx, symbols, horizon)
	metrics.ModelLatency.WithLabelValues(modelID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelErrors.WithLabelValues(modelID).Inc()
		e.logger.Warn("model prediction failed", applogger.String("model", modelID), applogger.Error(err))
		return nil, fmt.Errorf("predict %s: %w", modelID, err)
	}

	return models.RankSignals(e.normalize(raw, symbols, modelID, horizon)), nil
}

// normalize drops signals for symbols that were not requested, keeps the
// first signal per symbol and stamps model id, horizon and time.
func (e *Engine) normalize(raw []models.PredictionSignal, symbols []string, modelID string, horizon int) []models.PredictionSignal {
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}
	now := e.now()
	out := make([]models.PredictionSignal, 0, len(raw))
	for _, s := range raw {
		if !wanted[s.Symbol] {
			continue
		}
		wanted[s.Symbol] = false
		s.ModelID = modelID
		s.Horizon = horizon
		if s.GeneratedAt.IsZero() {
			s.GeneratedAt = now
		}
		s.Confidence = clamp(s.Confidence, 0, 1)
		out = append(out, s)
	}
	return out
}

// EnsembleResult holds the per-model output of GenerateEnsemble.
type EnsembleResult struct {
	Signals map[string][]models.PredictionSignal
	Errors  map[string]error
}

// GenerateEnsemble queries several models concurrently. A failing model is
// reported in Errors and does not affect the others.
func (e *Engine) GenerateEnsemble(ctx context.Context, symbols []string, modelIDs []string, horizon int) EnsembleResult {
	res := EnsembleResult{
		Signals: make(map[string][]models.PredictionSignal, len(modelIDs)),
		Errors:  make(map[string]error),
	}
	var mu sync.Mutex
	var g errgroup.Group
	for _, id := range dedupe(modelIDs) {
		id := id
		g.Go(func() error {
			sigs, err := e.GenerateSignals(ctx, symbols, id, horizon)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors[id] = err
				return nil
			}
			res.Signals[id] = sigs
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// Merged flattens the ensemble into one ranked slice.
func (r EnsembleResult) Merged() []models.PredictionSignal {
	ids := make([]string, 0, len(r.Signals))
	for id := range r.Signals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []models.PredictionSignal
	for _, id := range ids {
		out = append(out, r.Signals[id]...)
	}
	return models.RankSignals(out)
}

// MarketRegime labels a signal set by its average predicted return.
func MarketRegime(signals []models.PredictionSignal) models.MarketRegime {
	if len(signals) == 0 {
		return models.RegimeSideways
	}
	var sum float64
	for _, s := range signals {
		sum += s.PredictedReturn
	}
	avg := sum / float64(len(signals))
	switch {
	case avg > bullThreshold:
		return models.RegimeBull
	case avg < bearThreshold:
		return models.RegimeBear
	default:
		return models.RegimeSideways
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
