package models

import (
	"fmt"
	"time"
)

// RiskTier maps to the risk-aversion coefficient of the optimizer objective.
type RiskTier string

const (
	RiskConservative RiskTier = "conservative"
	RiskModerate     RiskTier = "moderate"
	RiskAggressive   RiskTier = "aggressive"
)

// RiskAversion returns the penalty weight on portfolio variance.
func (t RiskTier) RiskAversion() float64 {
	switch t {
	case RiskConservative:
		return 3.0
	case RiskAggressive:
		return 1.0
	default:
		return 2.0
	}
}

// AllocationMethod selects the optimizer objective.
type AllocationMethod string

const (
	// MethodMeanVariance trades expected return against variance.
	MethodMeanVariance AllocationMethod = "mean_variance"
	// MethodRiskParity equalizes each asset's contribution to portfolio variance.
	MethodRiskParity AllocationMethod = "risk_parity"
)

// WeightBound is the inclusive per-asset weight range.
type WeightBound struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// AllocationConstraint is the constraint set for one optimization.
type AllocationConstraint struct {
	Bounds       map[string]WeightBound `json:"bounds,omitempty"`
	DefaultBound WeightBound            `json:"default_bound"`
	SectorCaps   map[string]float64     `json:"sector_caps,omitempty"`
	Sectors      map[string]string      `json:"sectors,omitempty"`
	CashReserve  float64                `json:"cash_reserve"`
	RiskTier     RiskTier               `json:"risk_tier"`
	Method       AllocationMethod       `json:"method,omitempty"`
}

// Bound returns the weight bound for symbol, falling back to DefaultBound.
func (c AllocationConstraint) Bound(symbol string) WeightBound {
	if b, ok := c.Bounds[symbol]; ok {
		return b
	}
	return c.DefaultBound
}

// Invested is the weight left for assets after the cash reserve.
func (c AllocationConstraint) Invested() float64 { return 1 - c.CashReserve }

// Validate rejects constraint sets that no allocation could ever satisfy.
func (c AllocationConstraint) Validate() error {
	if c.CashReserve < 0 || c.CashReserve >= 1 {
		return fmt.Errorf("%w: cash reserve %.4f outside [0,1)", ErrInvalidConstraints, c.CashReserve)
	}
	switch c.Method {
	case "", MethodMeanVariance, MethodRiskParity:
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalidConstraints, c.Method)
	}
	check := func(sym string, b WeightBound) error {
		if b.Min < 0 || b.Max < b.Min || b.Max > 1 {
			return fmt.Errorf("%w: bound for %q is [%.4f, %.4f]", ErrInvalidConstraints, sym, b.Min, b.Max)
		}
		return nil
	}
	if err := check("default", c.DefaultBound); err != nil {
		return err
	}
	for sym, b := range c.Bounds {
		if err := check(sym, b); err != nil {
			return err
		}
	}
	for sector, limit := range c.SectorCaps {
		if limit < 0 {
			return fmt.Errorf("%w: sector cap for %q is negative", ErrInvalidConstraints, sector)
		}
	}
	return nil
}

// OptimizerStatus records which rung of the fallback ladder produced an Allocation.
type OptimizerStatus string

const (
	StatusOptimal  OptimizerStatus = "optimal"
	StatusRelaxed  OptimizerStatus = "relaxed"
	StatusFallback OptimizerStatus = "fallback"
)

// ConcentrationFlag marks an outsized single-asset weight.
type ConcentrationFlag struct {
	Symbol   string  `json:"symbol"`
	Weight   float64 `json:"weight"`
	Severity string  `json:"severity"`
}

// RiskMetrics are computed from the optimizer's covariance and the chosen weights.
type RiskMetrics struct {
	ExpectedReturn  float64 `json:"expected_return"`
	Volatility      float64 `json:"volatility"`
	VaR95           float64 `json:"var_95"`
	CVaR95          float64 `json:"cvar_95"`
	Sharpe          float64 `json:"sharpe"`
	Diversification float64 `json:"diversification"`
	Concentration   float64 `json:"concentration"`
}

// Allocation is a target weight vector with its risk report.
type Allocation struct {
	ID          string              `json:"id"`
	Weights     map[string]float64  `json:"weights"`
	Ranking     []string            `json:"ranking"`
	CashReserve float64             `json:"cash_reserve"`
	Risk        RiskMetrics         `json:"risk"`
	Flags       []ConcentrationFlag `json:"concentration_flags,omitempty"`
	Method      AllocationMethod    `json:"method"`
	Status      OptimizerStatus     `json:"status"`
	Reason      string              `json:"reason,omitempty"`
	Horizon     int                 `json:"horizon"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// InvestedWeight sums the asset weights.
func (a *Allocation) InvestedWeight() float64 {
	var sum float64
	for _, w := range a.Weights {
		sum += w
	}
	return sum
}
