package models

import "time"

// AllocationRequest is the on-demand analyze/optimize input.
type AllocationRequest struct {
	Symbols     []string
	ModelIDs    []string
	Horizon     int
	Constraints AllocationConstraint
	// CashReserve replaces Constraints.CashReserve. Nil selects
	// the configured default; zero means fully invested.
	CashReserve *float64
	PortfolioID string
	Holdings    map[string]float64
	Cash        float64
}

// AllocationResponse is returned to the excluded UI layer for display.
type AllocationResponse struct {
	Allocation  *Allocation        `json:"allocation"`
	Signals     []PredictionSignal `json:"signals"`
	Regime      MarketRegime       `json:"regime"`
	Excluded    map[string]string  `json:"excluded,omitempty"`
	Stale       []string           `json:"stale,omitempty"`
	ModelErrors map[string]string  `json:"model_errors,omitempty"`
	PortfolioID string             `json:"portfolio_id,omitempty"`
}

// SweepReport summarizes one ReEvaluateAll run.
type SweepReport struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Evaluated  int               `json:"evaluated"`
	Triggered  int               `json:"triggered"`
	Failed     map[string]string `json:"failed,omitempty"`
}
