package models

import "time"

// DriftState is the per-portfolio rebalance state machine.
type DriftState string

const (
	DriftStable               DriftState = "stable"
	DriftDetected             DriftState = "drift_detected"
	DriftRecommendationIssued DriftState = "recommendation_issued"
	DriftAcknowledged         DriftState = "acknowledged"
)

// Portfolio is the persisted record the drift monitor consumes by key.
type Portfolio struct {
	ID            string             `json:"id"`
	TargetWeights map[string]float64 `json:"target_weights"`
	CashReserve   float64            `json:"cash_reserve"`
	Holdings      map[string]float64 `json:"holdings"`
	Cash          float64            `json:"cash"`
	State         DriftState         `json:"state"`
	EpisodeID     int                `json:"episode_id"`
	AllocationID  string             `json:"allocation_id,omitempty"`
	LastReport    *DriftReport       `json:"last_report,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Symbols returns the union of held and targeted symbols.
func (p *Portfolio) Symbols() []string {
	seen := make(map[string]struct{}, len(p.Holdings)+len(p.TargetWeights))
	out := make([]string, 0, len(seen))
	for _, m := range []map[string]float64{p.Holdings, p.TargetWeights} {
		for s := range m {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// AssetDrift is one row of a DriftReport.
type AssetDrift struct {
	Symbol        string  `json:"symbol"`
	CurrentWeight float64 `json:"current_weight"`
	TargetWeight  float64 `json:"target_weight"`
	Drift         float64 `json:"drift"`
}

// DriftReport is produced by every evaluation and never mutated.
type DriftReport struct {
	ID             string         `json:"id"`
	PortfolioID    string         `json:"portfolio_id"`
	Assets         []AssetDrift   `json:"assets"`
	AggregateDrift float64        `json:"aggregate_drift"`
	Threshold      float64        `json:"threshold"`
	Triggered      bool           `json:"triggered"`
	State          DriftState     `json:"state"`
	EpisodeID      int            `json:"episode_id"`
	Plan           *RebalancePlan `json:"plan,omitempty"`
	EvaluatedAt    time.Time      `json:"evaluated_at"`
}

// ExecutionStrategy suggests how quickly a plan should be worked.
type ExecutionStrategy string

const (
	ExecImmediate ExecutionStrategy = "immediate"
	ExecPhased    ExecutionStrategy = "phased"
	ExecGradual   ExecutionStrategy = "gradual"
)

// WeightDelta is the weight change for one asset. It carries no trade size.
type WeightDelta struct {
	Symbol  string  `json:"symbol"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Delta   float64 `json:"delta"`
	Action  string  `json:"action"`
}

// RebalancePlan enumerates the weight deltas that return a portfolio to target.
type RebalancePlan struct {
	ID            string            `json:"id"`
	PortfolioID   string            `json:"portfolio_id"`
	EpisodeID     int               `json:"episode_id"`
	Deltas        []WeightDelta     `json:"deltas"`
	Turnover      float64           `json:"turnover"`
	EstimatedCost float64           `json:"estimated_cost"`
	Strategy      ExecutionStrategy `json:"strategy"`
	CreatedAt     time.Time         `json:"created_at"`
}
