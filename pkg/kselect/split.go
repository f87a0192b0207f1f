package kselect

import (
	"math"
)

// split is the deterministic train/test partition of one pair's trials.
type split struct {
	wtr, ltr float64
	wte, lte float64
}

func (s split) test() float64 {
	return s.wte + s.lte
}

// splitCounts holds out about rho of the trials for testing: at least
// minTest when N ≥ 4, at least one, and never all of them when N > 1. Test
// wins follow the observed win share. Fractional counts are truncated to
// whole trials; derived sizes are rounded half to even.
func splitCounts(w, l, rho float64, minTest int) split {
	wi := math.Trunc(w)
	li := math.Trunc(l)
	n := wi + li
	if n <= 0 {
		return split{}
	}

	target := math.RoundToEven(rho * n)
	if n >= 4 {
		target = math.Max(target, float64(minTest))
	}
	test := math.Min(math.Max(1, target), math.Max(0, n-1))

	wte := math.RoundToEven(test * wi / n)
	wte = math.Max(0, math.Min(wte, wi))
	lte := test - wte
	lte = math.Max(0, math.Min(lte, li))
	wtr, ltr := wi-wte, li-lte

	if wtr+ltr <= 0 && n > 1 {
		switch {
		case wte >= lte && wte > 0:
			wte--
			wtr++
		case lte > 0:
			lte--
			ltr++
		}
	}

	return split{wtr: wtr, ltr: ltr, wte: wte, lte: lte}
}
