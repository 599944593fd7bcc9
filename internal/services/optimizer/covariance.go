package optimizer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// minObservations is the shortest return history that enters the sample covariance.
	minObservations = 10
	// defaultDailyVariance applies when no symbol has usable history (2% daily vol).
	defaultDailyVariance = 0.0004
)

// RiskModel is a horizon-scaled covariance over a sorted symbol set.
type RiskModel struct {
	Symbols []string
	Cov     *mat.SymDense
	Horizon int
	// Imputed lists symbols that received the median variance.
	Imputed []string

	index map[string]int
}

// BuildRiskModel estimates the covariance of daily returns, shrinks it toward
// its diagonal and scales it to the horizon. returns maps symbol to daily
// simple returns in time order; symbols lacking history get the median
// variance of the others and zero covariance.
func BuildRiskModel(symbols []string, returns map[string][]float64, horizon int, shrinkage float64) *RiskModel {
	syms := sortedUnique(symbols)
	if horizon <= 0 {
		horizon = 1
	}
	shrinkage = math.Max(0, math.Min(1, shrinkage))

	var withData []string
	depth := math.MaxInt
	for _, s := range syms {
		if n := len(returns[s]); n >= minObservations {
			withData = append(withData, s)
			depth = min(depth, n)
		}
	}

	k := len(syms)
	cov := mat.NewSymDense(max(k, 1), nil)
	rm := &RiskModel{Symbols: syms, Horizon: horizon, index: make(map[string]int, k)}
	for i, s := range syms {
		rm.index[s] = i
	}
	if k == 0 {
		rm.Cov = cov
		return rm
	}

	sampled := make(map[string]int, len(withData))
	if len(withData) > 0 {
		x := mat.NewDense(depth, len(withData), nil)
		for j, s := range withData {
			r := returns[s]
			tail := r[len(r)-depth:]
			for t, v := range tail {
				x.Set(t, j, v)
			}
			sampled[s] = j
		}
		sample := mat.NewSymDense(len(withData), nil)
		stat.CovarianceMatrix(sample, x, nil)
		for _, a := range withData {
			for _, b := range withData {
				i, j := rm.index[a], rm.index[b]
				if j < i {
					continue
				}
				v := sample.At(sampled[a], sampled[b])
				if i != j {
					v *= 1 - shrinkage
				}
				cov.SetSym(i, j, v)
			}
		}
	}

	fill := medianVariance(cov, withData, rm.index)
	for _, s := range syms {
		if _, ok := sampled[s]; ok {
			continue
		}
		i := rm.index[s]
		cov.SetSym(i, i, fill)
		rm.Imputed = append(rm.Imputed, s)
	}

	h := float64(horizon)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			cov.SetSym(i, j, cov.At(i, j)*h)
		}
	}
	rm.Cov = cov
	return rm
}

// Volatility returns the horizon standard deviation of one symbol.
func (r *RiskModel) Volatility(symbol string) float64 {
	i, ok := r.index[symbol]
	if !ok {
		return 0
	}
	return math.Sqrt(math.Max(0, r.Cov.At(i, i)))
}

// sub restricts the model to symbols, which must be a sorted subset.
func (r *RiskModel) sub(symbols []string) *mat.SymDense {
	out := mat.NewSymDense(max(len(symbols), 1), nil)
	for a, sa := range symbols {
		ia, okA := r.index[sa]
		for b := a; b < len(symbols); b++ {
			ib, okB := r.index[symbols[b]]
			if !okA || !okB {
				if a == b {
					out.SetSym(a, b, defaultDailyVariance*float64(r.Horizon))
				}
				continue
			}
			out.SetSym(a, b, r.Cov.At(ia, ib))
		}
	}
	return out
}

func medianVariance(cov *mat.SymDense, withData []string, index map[string]int) float64 {
	if len(withData) == 0 {
		return defaultDailyVariance
	}
	vs := make([]float64, 0, len(withData))
	for _, s := range withData {
		i := index[s]
		vs = append(vs, cov.At(i, i))
	}
	sort.Float64s(vs)
	n := len(vs)
	if n%2 == 1 {
		return vs[n/2]
	}
	return (vs[n/2-1] + vs[n/2]) / 2
}

func sortedUnique(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
