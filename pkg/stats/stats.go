package stats

import (
	"math"
	"sort"
)

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mean returns the arithmetic mean of vals, NaN when empty.
func Mean(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// PopStdDev returns the population (ddof=0) standard deviation of vals.
func PopStdDev(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	m := Mean(vals)
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)))
}

// Quantile returns the q-th quantile (0..1) of vals using linear
// interpolation between closest ranks. vals is not modified.
func Quantile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	return quantileSorted(s, q)
}

func quantileSorted(s []float64, q float64) float64 {
	q = Clip(q, 0, 1)
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	frac := pos - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}

// Median is Quantile(vals, 0.5).
func Median(vals []float64) float64 {
	return Quantile(vals, 0.5)
}

// Pearson returns the correlation of a and b over indexes where both are
// finite. NaN when fewer than two points overlap or either side is constant.
func Pearson(a, b []float64, eps float64) float64 {
	var xs, ys []float64
	for i := range a {
		if i >= len(b) {
			break
		}
		if IsFinite(a[i]) && IsFinite(b[i]) {
			xs = append(xs, a[i])
			ys = append(ys, b[i])
		}
	}
	if len(xs) < 2 {
		return math.NaN()
	}

	ma, mb := Mean(xs), Mean(ys)
	sa, sb := PopStdDev(xs), PopStdDev(ys)
	if !IsFinite(sa) || !IsFinite(sb) || sa <= eps || sb <= eps {
		return math.NaN()
	}

	var dot float64
	for i := range xs {
		dot += (xs[i] - ma) * (ys[i] - mb)
	}
	r := dot / (sa * sb * float64(len(xs)))
	if !IsFinite(r) {
		return math.NaN()
	}
	return r
}

// HHI is the Herfindahl-Hirschman concentration of vals (shares squared),
// NaN when the total is not positive.
func HHI(vals []float64) float64 {
	var tot float64
	for _, v := range vals {
		tot += v
	}
	if !IsFinite(tot) || tot <= 0 {
		return math.NaN()
	}
	var h float64
	for _, v := range vals {
		p := v / tot
		h += p * p
	}
	return h
}

// NormalCDF is the standard normal cumulative distribution function.
func NormalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// LogBeta returns log B(x, y) computed through log-gamma.
func LogBeta(x, y float64) float64 {
	lx, _ := math.Lgamma(x)
	ly, _ := math.Lgamma(y)
	lxy, _ := math.Lgamma(x + y)
	return lx + ly - lxy
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Defined returns a pointer to v, or nil when v is not finite. Undefined
// diagnostics are emitted as absent rather than NaN.
func Defined(v float64) *float64 {
	if !IsFinite(v) {
		return nil
	}
	return &v
}
