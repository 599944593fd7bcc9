package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/domain/repository"
	applogger "FinAlloc/pkg/logger"
)

// Options tune the solver and the fallback ladder. A nil pointer field takes
// its default; zero is a valid setting for each of them.
type Options struct {
	Shrinkage     *float64
	SectorRelax   *float64
	MaxIterations int
	Tolerance     float64
	RiskFreeRate  *float64
}

// Float returns a pointer to v for the optional Options fields.
func Float(v float64) *float64 { return &v }

func (o *Options) applyDefaults() {
	o.Shrinkage = floatOr(o.Shrinkage, 0.10)
	o.SectorRelax = floatOr(o.SectorRelax, 0.20)
	o.RiskFreeRate = floatOr(o.RiskFreeRate, 0.02)
	if o.MaxIterations <= 0 {
		o.MaxIterations = 2000
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-10
	}
}

// floatOr copies p, or def when p is nil.
func floatOr(p *float64, def float64) *float64 {
	if p == nil {
		return Float(def)
	}
	return Float(*p)
}

// acceptTolerance is the last-step size still accepted as converged once the
// iteration budget is spent.
const acceptTolerance = 1e-6

// rankTolerance treats weights this close as tied in the ranking.
const rankTolerance = 1e-12

// Optimizer turns signals and a risk model into a constrained weight vector.
// It is pure over its inputs and safe for concurrent use.
type Optimizer struct {
	opts    Options
	logger  *applogger.Logger
	metrics repository.Metrics
	now     func() time.Time
}

func New(opts Options, l *applogger.Logger, m repository.Metrics) *Optimizer {
	opts.applyDefaults()
	if l == nil {
		l = applogger.Nop()
	}
	return &Optimizer{opts: opts, logger: l.Component("optimizer"), metrics: m, now: time.Now}
}

// Shrinkage is the covariance shrinkage intensity used by BuildRiskModel callers.
func (o *Optimizer) Shrinkage() float64 { return *o.opts.Shrinkage }

// Optimize maximizes mu'w - (lambda/2) w'Sigma w over the feasible set, or
// with MethodRiskParity equalizes risk contributions over the same Sigma. On
// infeasibility or non-convergence it relaxes sector caps once, then falls
// back to equal weight. ErrInvalidConstraints is returned when not even the
// equal-weight rung can satisfy the bounds.
func (o *Optimizer) Optimize(symbols []string, signals []models.PredictionSignal, c models.AllocationConstraint, risk *RiskModel) (*models.Allocation, error) {
	syms := sortedUnique(symbols)
	if len(syms) == 0 {
		return nil, fmt.Errorf("%w: no symbols", models.ErrInvalidConstraints)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if risk == nil {
		risk = BuildRiskModel(syms, nil, 1, *o.opts.Shrinkage)
	}

	// risk parity ignores expected returns, so it runs without signals
	mu, ok := expectedReturns(syms, signals)
	if !ok && c.Method != models.MethodRiskParity {
		return o.EqualWeight(syms, c, risk, "no usable signals")
	}

	set := buildSet(syms, c, 1)
	if !set.boxFeasible() {
		return nil, fmt.Errorf("%w: bounds cannot hold invested weight %.4f", models.ErrInvalidConstraints, c.Invested())
	}

	sigma := risk.sub(syms)
	lambda := c.RiskTier.RiskAversion()
	solve := func(set *feasibleSet) ([]float64, error) {
		return o.solve(mu, sigma, lambda, set)
	}
	if c.Method == models.MethodRiskParity {
		solve = func(set *feasibleSet) ([]float64, error) {
			return o.riskParity(sigma, set)
		}
	}

	w, err := solve(set)
	if err == nil {
		return o.finish(syms, w, mu, c, risk, models.StatusOptimal, ""), nil
	}
	o.logger.Debug("optimization failed, relaxing sector caps",
		applogger.String("method", string(methodOf(c))),
		applogger.Error(err))

	if len(set.sectors) > 0 {
		relax := *o.opts.SectorRelax
		relaxed := buildSet(syms, c, 1+relax)
		var rw []float64
		if rw, err = solve(relaxed); err == nil {
			reason := fmt.Sprintf("sector caps relaxed by %.0f%%", relax*100)
			return o.finish(syms, rw, mu, c, risk, models.StatusRelaxed, reason), nil
		}
	}

	return o.EqualWeight(syms, c, risk, err.Error())
}

// EqualWeight is the last rung of the ladder: equal weight across symbols,
// projected onto the bounds and cash reserve. Sector caps are kept when they
// are satisfiable.
func (o *Optimizer) EqualWeight(symbols []string, c models.AllocationConstraint, risk *RiskModel, reason string) (*models.Allocation, error) {
	syms := sortedUnique(symbols)
	if len(syms) == 0 {
		return nil, fmt.Errorf("%w: no symbols", models.ErrInvalidConstraints)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	set := buildSet(syms, c, 1)
	if !set.boxFeasible() {
		return nil, fmt.Errorf("%w: bounds cannot hold invested weight %.4f", models.ErrInvalidConstraints, c.Invested())
	}
	if !set.feasible() {
		set.sectors = nil
	}
	if risk == nil {
		risk = BuildRiskModel(syms, nil, 1, *o.opts.Shrinkage)
	}

	eq := make([]float64, len(syms))
	for i := range eq {
		eq[i] = c.Invested() / float64(len(syms))
	}
	w := set.project(eq)
	return o.finish(syms, w, make([]float64, len(syms)), c, risk, models.StatusFallback, reason), nil
}

var errNotConverged = errors.New("solver did not converge")

// solve runs projected-gradient ascent with step 1/L, L the largest
// eigenvalue of lambda*Sigma.
func (o *Optimizer) solve(mu []float64, sigma *mat.SymDense, lambda float64, set *feasibleSet) ([]float64, error) {
	if !set.feasible() {
		return nil, models.ErrOptimizationInfeasible
	}
	n := len(mu)
	step := 1 / math.Max(lambda*largestEigen(sigma), 1e-12)

	eq := make([]float64, n)
	for i := range eq {
		eq[i] = set.budget / float64(n)
	}
	w := set.project(eq)

	sw := mat.NewVecDense(n, nil)
	next := make([]float64, n)
	var last float64
	for it := 0; it < o.opts.MaxIterations; it++ {
		sw.MulVec(sigma, mat.NewVecDense(n, w))
		for i := range next {
			next[i] = w[i] + step*(mu[i]-lambda*sw.AtVec(i))
		}
		proj := set.project(next)
		last = maxAbsDiff(proj, w)
		w = proj
		if last < o.opts.Tolerance {
			break
		}
	}
	if last >= acceptTolerance {
		return nil, fmt.Errorf("%w: last step %.3g", errNotConverged, last)
	}
	if set.sectorViolation(w) > sectorSlack {
		return nil, models.ErrOptimizationInfeasible
	}
	return w, nil
}

// riskParity finds the equal risk contribution portfolio by cyclical
// coordinate descent on min 1/2 y'Sigma y - (1/n) sum(ln y), scales it to the
// budget and projects it onto the feasible set. Where bounds or sector caps
// bind, the projection moves the weights off exact parity.
func (o *Optimizer) riskParity(sigma *mat.SymDense, set *feasibleSet) ([]float64, error) {
	if !set.feasible() {
		return nil, models.ErrOptimizationInfeasible
	}
	n := len(set.lo)
	budget := 1 / float64(n)

	y := make([]float64, n)
	for i := range y {
		y[i] = 1 / math.Sqrt(math.Max(sigma.At(i, i), minVariance))
	}
	var last float64
	for it := 0; it < o.opts.MaxIterations; it++ {
		last = 0
		var total float64
		for i := range y {
			sii := math.Max(sigma.At(i, i), minVariance)
			var off float64
			for j := range y {
				if j != i {
					off += sigma.At(i, j) * y[j]
				}
			}
			next := (-off + math.Sqrt(off*off+4*sii*budget)) / (2 * sii)
			last = math.Max(last, math.Abs(next-y[i]))
			y[i] = next
			total += next
		}
		last /= total
		if last < o.opts.Tolerance {
			break
		}
	}
	if last >= acceptTolerance {
		return nil, fmt.Errorf("%w: last step %.3g", errNotConverged, last)
	}

	var sum float64
	for _, v := range y {
		sum += v
	}
	w := make([]float64, n)
	for i, v := range y {
		w[i] = set.budget * v / sum
	}
	w = set.project(w)
	if set.sectorViolation(w) > sectorSlack {
		return nil, models.ErrOptimizationInfeasible
	}
	return w, nil
}

// minVariance floors diagonal entries so a flat series cannot divide by zero.
const minVariance = 1e-12

func methodOf(c models.AllocationConstraint) models.AllocationMethod {
	if c.Method == "" {
		return models.MethodMeanVariance
	}
	return c.Method
}

func (o *Optimizer) finish(syms []string, w, mu []float64, c models.AllocationConstraint, risk *RiskModel, status models.OptimizerStatus, reason string) *models.Allocation {
	weights := make(map[string]float64, len(syms))
	for i, s := range syms {
		weights[s] = w[i]
	}
	rank := make([]int, len(syms))
	for i := range rank {
		rank[i] = i
	}
	sort.SliceStable(rank, func(a, b int) bool {
		i, j := rank[a], rank[b]
		if math.Abs(w[i]-w[j]) > rankTolerance {
			return w[i] > w[j]
		}
		if mu[i] != mu[j] {
			return mu[i] > mu[j]
		}
		return syms[i] < syms[j]
	})
	ranking := make([]string, len(rank))
	for k, i := range rank {
		ranking[k] = syms[i]
	}

	metrics := computeRisk(syms, w, mu, risk, *o.opts.RiskFreeRate)
	alloc := &models.Allocation{
		ID:          uuid.NewString(),
		Weights:     weights,
		Ranking:     ranking,
		CashReserve: c.CashReserve,
		Risk:        metrics,
		Flags:       concentrationFlags(syms, w),
		Method:      methodOf(c),
		Status:      status,
		Reason:      reason,
		Horizon:     risk.Horizon,
		GeneratedAt: o.now(),
	}
	if o.metrics != nil {
		o.metrics.RecordOptimization(status)
	}
	if status != models.StatusOptimal {
		o.logger.Info("allocation degraded",
			applogger.String("status", string(status)),
			applogger.String("reason", reason),
			applogger.Int("symbols", len(syms)))
	}
	return alloc
}

// expectedReturns is the confidence-weighted mean of each symbol's signals.
// Symbols without a signal get zero. ok is false when no signal matches.
func expectedReturns(syms []string, signals []models.PredictionSignal) ([]float64, bool) {
	idx := make(map[string]int, len(syms))
	for i, s := range syms {
		idx[s] = i
	}
	sumW := make([]float64, len(syms))
	sumR := make([]float64, len(syms))
	plain := make([]float64, len(syms))
	count := make([]int, len(syms))

	ordered := append([]models.PredictionSignal(nil), signals...)
	models.RankSignals(ordered)
	found := false
	for _, s := range ordered {
		i, ok := idx[s.Symbol]
		if !ok || math.IsNaN(s.PredictedReturn) {
			continue
		}
		found = true
		sumW[i] += s.Confidence
		sumR[i] += s.Confidence * s.PredictedReturn
		plain[i] += s.PredictedReturn
		count[i]++
	}
	mu := make([]float64, len(syms))
	for i := range mu {
		switch {
		case sumW[i] > 0:
			mu[i] = sumR[i] / sumW[i]
		case count[i] > 0:
			mu[i] = plain[i] / float64(count[i])
		}
	}
	return mu, found
}

// buildSet maps constraints onto index space. capScale multiplies every
// sector cap.
func buildSet(syms []string, c models.AllocationConstraint, capScale float64) *feasibleSet {
	set := &feasibleSet{
		lo:     make([]float64, len(syms)),
		hi:     make([]float64, len(syms)),
		budget: c.Invested(),
	}
	groups := map[string][]int{}
	for i, s := range syms {
		b := c.Bound(s)
		set.lo[i], set.hi[i] = b.Min, b.Max
		if sector, ok := c.Sectors[s]; ok {
			if _, capped := c.SectorCaps[sector]; capped {
				groups[sector] = append(groups[sector], i)
			}
		}
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		set.sectors = append(set.sectors, sectorGroup{
			name:    name,
			members: groups[name],
			cap:     c.SectorCaps[name] * capScale,
		})
	}
	return set
}

func largestEigen(s *mat.SymDense) float64 {
	var es mat.EigenSym
	if ok := es.Factorize(s, false); !ok {
		// Gershgorin bound
		n, _ := s.Dims()
		var bound float64
		for i := 0; i < n; i++ {
			var row float64
			for j := 0; j < n; j++ {
				row += math.Abs(s.At(i, j))
			}
			bound = math.Max(bound, row)
		}
		return bound
	}
	vals := es.Values(nil)
	var top float64
	for _, v := range vals {
		top = math.Max(top, v)
	}
	return top
}
