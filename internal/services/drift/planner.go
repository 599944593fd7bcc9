package drift

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"FinAlloc/internal/domain/models"
)

const (
	gradualTurnover = 0.3
	phasedTurnover  = 0.15
)

// Planner turns a weight gap into a RebalancePlan. It sizes nothing in
// currency; deltas are portfolio weight fractions.
type Planner struct {
	minDelta float64
	costRate float64
}

func NewPlanner(minDelta, costRate float64) *Planner {
	if minDelta <= 0 {
		minDelta = 0.001
	}
	if costRate < 0 {
		costRate = 0
	}
	return &Planner{minDelta: minDelta, costRate: costRate}
}

// Plan lists per-asset deltas larger than the minimum, largest first.
func (pl *Planner) Plan(portfolioID string, episode int, current, target map[string]float64, now time.Time) *models.RebalancePlan {
	var deltas []models.WeightDelta
	var turnover float64
	for _, sym := range unionKeys(current, target) {
		cur, tgt := current[sym], target[sym]
		d := tgt - cur
		if math.Abs(d) <= pl.minDelta {
			continue
		}
		action := "buy"
		if d < 0 {
			action = "sell"
		}
		deltas = append(deltas, models.WeightDelta{Symbol: sym, Current: cur, Target: tgt, Delta: d, Action: action})
		turnover += math.Abs(d)
	}
	sort.SliceStable(deltas, func(i, j int) bool {
		return math.Abs(deltas[i].Delta) > math.Abs(deltas[j].Delta)
	})

	strategy := models.ExecImmediate
	switch {
	case turnover > gradualTurnover:
		strategy = models.ExecGradual
	case turnover > phasedTurnover:
		strategy = models.ExecPhased
	}

	return &models.RebalancePlan{
		ID:            uuid.NewString(),
		PortfolioID:   portfolioID,
		EpisodeID:     episode,
		Deltas:        deltas,
		Turnover:      turnover,
		EstimatedCost: turnover * pl.costRate,
		Strategy:      strategy,
		CreatedAt:     now,
	}
}

// unionKeys returns the sorted union of both maps' keys.
func unionKeys(a, b map[string]float64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
