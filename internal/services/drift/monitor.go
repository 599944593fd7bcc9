package drift

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/domain/repository"
	applogger "FinAlloc/pkg/logger"
)

// ErrNothingToAcknowledge is returned when no recommendation is outstanding.
var ErrNothingToAcknowledge = errors.New("no outstanding recommendation")

var errNoValue = errors.New("portfolio has no market value")

type Options struct {
	Threshold       float64
	HysteresisBand  float64
	MinDelta        float64
	TransactionCost float64
}

// Monitor evaluates portfolios against their last accepted targets. It is
// pure: the caller persists the returned state.
type Monitor struct {
	threshold float64
	band      float64
	planner   *Planner
	logger    *applogger.Logger
	metrics   repository.Metrics
}

func NewMonitor(opts Options, l *applogger.Logger, m repository.Metrics) *Monitor {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.05
	}
	if opts.HysteresisBand < 0 || opts.HysteresisBand >= 1 {
		opts.HysteresisBand = 0.2
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Monitor{
		threshold: opts.Threshold,
		band:      opts.HysteresisBand,
		planner:   NewPlanner(opts.MinDelta, opts.TransactionCost),
		logger:    l.Component("drift_monitor"),
		metrics:   m,
	}
}

func (m *Monitor) Threshold() float64 { return m.threshold }

// Evaluate computes current weights from prices and advances the state
// machine. A plan is attached only when a new drift episode starts.
func (m *Monitor) Evaluate(p *models.Portfolio, prices map[string]float64, now time.Time) (*models.DriftReport, error) {
	current, err := CurrentWeights(p, prices)
	if err != nil {
		return nil, err
	}

	assets := make([]models.AssetDrift, 0, len(current)+len(p.TargetWeights))
	var aggregate float64
	for _, sym := range unionKeys(current, p.TargetWeights) {
		cur, tgt := current[sym], p.TargetWeights[sym]
		d := cur - tgt
		aggregate += math.Abs(d)
		assets = append(assets, models.AssetDrift{Symbol: sym, CurrentWeight: cur, TargetWeight: tgt, Drift: d})
	}

	state := p.State
	if state == "" {
		state = models.DriftStable
	}
	episode := p.EpisodeID
	exceeded := aggregate > m.threshold
	calm := aggregate <= m.threshold*(1-m.band)

	var plan *models.RebalancePlan
	switch state {
	case models.DriftStable, models.DriftAcknowledged:
		if exceeded {
			episode++
			plan = m.planner.Plan(p.ID, episode, current, p.TargetWeights, now)
			state = models.DriftRecommendationIssued
		} else if calm {
			state = models.DriftStable
		}
	case models.DriftDetected:
		// a detected episode without a plan gets its plan now
		plan = m.planner.Plan(p.ID, episode, current, p.TargetWeights, now)
		state = models.DriftRecommendationIssued
	case models.DriftRecommendationIssued:
		if calm {
			state = models.DriftStable
		}
	}

	report := &models.DriftReport{
		ID:             uuid.NewString(),
		PortfolioID:    p.ID,
		Assets:         assets,
		AggregateDrift: aggregate,
		Threshold:      m.threshold,
		Triggered:      exceeded,
		State:          state,
		EpisodeID:      episode,
		Plan:           plan,
		EvaluatedAt:    now,
	}
	if m.metrics != nil {
		m.metrics.RecordDriftEvaluation(plan != nil)
	}
	if plan != nil {
		m.logger.Info("rebalance recommended",
			applogger.String("portfolio", p.ID),
			applogger.Int("episode", episode),
			applogger.Float64("aggregate_drift", aggregate),
			applogger.String("strategy", string(plan.Strategy)))
	}
	return report, nil
}

// Acknowledge moves an outstanding recommendation to Acknowledged.
func (m *Monitor) Acknowledge(state models.DriftState) (models.DriftState, error) {
	switch state {
	case models.DriftRecommendationIssued, models.DriftDetected, models.DriftAcknowledged:
		return models.DriftAcknowledged, nil
	default:
		return state, ErrNothingToAcknowledge
	}
}

// Apply copies an evaluation's outcome onto the portfolio record.
func Apply(p *models.Portfolio, r *models.DriftReport) {
	p.State = r.State
	p.EpisodeID = r.EpisodeID
	p.LastReport = r
	p.UpdatedAt = r.EvaluatedAt
}

// CurrentWeights values holdings at prices over holdings plus cash. Every
// held asset needs a positive price.
func CurrentWeights(p *models.Portfolio, prices map[string]float64) (map[string]float64, error) {
	values := make(map[string]float64, len(p.Holdings))
	total := p.Cash
	for _, sym := range unionKeys(p.Holdings, nil) {
		qty := p.Holdings[sym]
		if qty == 0 {
			continue
		}
		px, ok := prices[sym]
		if !ok || px <= 0 {
			return nil, &models.DriftEvaluationError{
				PortfolioID: p.ID,
				Symbol:      sym,
				Err:         fmt.Errorf("%w: no live quote", models.ErrNotFound),
			}
		}
		values[sym] = qty * px
		total += qty * px
	}
	if total <= 0 {
		return nil, &models.DriftEvaluationError{PortfolioID: p.ID, Err: errNoValue}
	}
	out := make(map[string]float64, len(values))
	for sym, v := range values {
		out[sym] = v / total
	}
	return out, nil
}
