package optimizer

import (
	"math"
	"sort"
)

// feasibleSet is {lo <= w <= hi, sum(w) = budget} intersected with
// per-sector caps. Sector groups are disjoint index sets.
type feasibleSet struct {
	lo, hi  []float64
	budget  float64
	sectors []sectorGroup
}

type sectorGroup struct {
	name    string
	members []int
	cap     float64
}

const (
	bisectIterations = 200
	dykstraMaxIter   = 1000
	dykstraTol       = 1e-13
	// sectorSlack is the tolerated sector cap overshoot after projection.
	sectorSlack = 1e-7
)

// boxFeasible reports whether bounds alone admit the budget.
func (f *feasibleSet) boxFeasible() bool {
	var sumLo, sumHi float64
	for i := range f.lo {
		sumLo += f.lo[i]
		sumHi += f.hi[i]
	}
	return sumLo <= f.budget+1e-12 && sumHi >= f.budget-1e-12
}

// feasible checks the full set. With disjoint sector groups it is enough
// that every group's floor fits under its cap and the capped capacity still
// reaches the budget.
func (f *feasibleSet) feasible() bool {
	if !f.boxFeasible() {
		return false
	}
	capped := make([]bool, len(f.lo))
	var capacity float64
	for _, g := range f.sectors {
		var floor, ceil float64
		for _, i := range g.members {
			floor += f.lo[i]
			ceil += f.hi[i]
			capped[i] = true
		}
		if floor > g.cap+1e-12 {
			return false
		}
		capacity += math.Min(ceil, g.cap)
	}
	for i, c := range capped {
		if !c {
			capacity += f.hi[i]
		}
	}
	return capacity >= f.budget-1e-12
}

// project returns the Euclidean projection of v onto the feasible set.
// The result always satisfies bounds and budget exactly; sector caps hold
// up to sectorSlack.
func (f *feasibleSet) project(v []float64) []float64 {
	if len(f.sectors) == 0 {
		return f.projectBox(v)
	}
	// Dykstra alternating projection between the box/budget set and the
	// sector half-spaces.
	n := len(v)
	x := append([]float64(nil), v...)
	p := make([]float64, n)
	q := make([]float64, n)
	buf := make([]float64, n)
	var y []float64
	for it := 0; it < dykstraMaxIter; it++ {
		for i := range buf {
			buf[i] = x[i] + p[i]
		}
		y = f.projectBox(buf)
		for i := range p {
			p[i] = buf[i] - y[i]
		}
		for i := range buf {
			buf[i] = y[i] + q[i]
		}
		next := f.projectSectors(buf)
		for i := range q {
			q[i] = buf[i] - next[i]
		}
		// stop once the iterate is stationary and both projections agree
		delta := math.Max(maxAbsDiff(next, x), maxAbsDiff(next, y))
		x = next
		if delta < dykstraTol {
			break
		}
	}
	return f.projectBox(x)
}

// projectBox solves clip(v - tau, lo, hi) with sum = budget by bisection on tau.
func (f *feasibleSet) projectBox(v []float64) []float64 {
	n := len(v)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	tauLo, tauHi := math.Inf(1), math.Inf(-1)
	for i := range v {
		tauLo = math.Min(tauLo, v[i]-f.hi[i])
		tauHi = math.Max(tauHi, v[i]-f.lo[i])
	}
	sumAt := func(tau float64) float64 {
		var s float64
		for i := range v {
			s += clip(v[i]-tau, f.lo[i], f.hi[i])
		}
		return s
	}
	for it := 0; it < bisectIterations; it++ {
		mid := (tauLo + tauHi) / 2
		if mid == tauLo || mid == tauHi {
			break
		}
		if sumAt(mid) > f.budget {
			tauLo = mid
		} else {
			tauHi = mid
		}
	}
	tau := (tauLo + tauHi) / 2
	for i := range v {
		out[i] = clip(v[i]-tau, f.lo[i], f.hi[i])
	}
	f.settle(out)
	return out
}

// settle moves the rounding residual of the bisection onto the assets with
// the most room so the budget holds to machine precision.
func (f *feasibleSet) settle(w []float64) {
	var sum float64
	for _, x := range w {
		sum += x
	}
	residual := f.budget - sum
	if residual == 0 {
		return
	}
	order := make([]int, len(w))
	for i := range order {
		order[i] = i
	}
	room := func(i int) float64 {
		if residual > 0 {
			return f.hi[i] - w[i]
		}
		return w[i] - f.lo[i]
	}
	sort.SliceStable(order, func(a, b int) bool { return room(order[a]) > room(order[b]) })
	for _, i := range order {
		if residual == 0 {
			break
		}
		step := math.Min(math.Abs(residual), room(i))
		if residual > 0 {
			w[i] += step
			residual -= step
		} else {
			w[i] -= step
			residual += step
		}
	}
}

// projectSectors projects onto the intersection of the sector half-spaces.
// Groups are disjoint, so each over-cap group is shifted down uniformly.
func (f *feasibleSet) projectSectors(v []float64) []float64 {
	out := append([]float64(nil), v...)
	for _, g := range f.sectors {
		var sum float64
		for _, i := range g.members {
			sum += out[i]
		}
		if sum <= g.cap {
			continue
		}
		shift := (sum - g.cap) / float64(len(g.members))
		for _, i := range g.members {
			out[i] -= shift
		}
	}
	return out
}

// sectorViolation returns the largest overshoot of any sector cap.
func (f *feasibleSet) sectorViolation(w []float64) float64 {
	var worst float64
	for _, g := range f.sectors {
		var sum float64
		for _, i := range g.members {
			sum += w[i]
		}
		worst = math.Max(worst, sum-g.cap)
	}
	return worst
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func maxAbsDiff(a, b []float64) float64 {
	var d float64
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}
