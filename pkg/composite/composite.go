package composite

import (
	"math"
	"sort"

	"github.com/mchmarny/metarank/pkg/stats"
)

const (
	sdFloor  = 1e-12
	scoreTol = 1e-9
)

// Input is what the scorer needs to know about one deck. LB is nil when the
// deck's lower bound is undefined.
type Input struct {
	Deck     string
	LB       *float64
	BT       float64
	NEff     float64
	Coverage float64
}

// Entry is a scored deck.
type Entry struct {
	Input
	ZLB   *float64
	ZBT   float64
	Z     float64
	Score float64
}

// Info reports the fusion weight and how well the two signals agree.
type Info struct {
	Alpha float64  `json:"alpha" yaml:"alpha"`
	CorrZ *float64 `json:"corr_z,omitempty" yaml:"corrZ,omitempty"`
}

// Score fuses z(LB) and z(BT) as z = α·z(LB) + (1−α)·z(BT), falling back
// to z(BT) when LB is undefined, maps z to 100·Φ(z/√2) and returns the
// entries ranked best first.
func Score(in []Input, alpha float64) ([]Entry, Info) {
	lb := make([]float64, len(in))
	bt := make([]float64, len(in))
	for i, d := range in {
		lb[i] = math.NaN()
		if d.LB != nil {
			lb[i] = *d.LB
		}
		bt[i] = d.BT
	}
	zlb := ZScores(lb)
	zbt := ZScores(bt)

	out := make([]Entry, len(in))
	for i, d := range in {
		e := Entry{Input: d, ZBT: zbt[i], Z: zbt[i]}
		if d.LB != nil {
			e.ZLB = stats.Defined(zlb[i])
			e.Z = alpha*zlb[i] + (1-alpha)*zbt[i]
		}
		e.Score = ToPercent(e.Z)
		out[i] = e
	}

	Rank(out)

	return out, Info{
		Alpha: alpha,
		CorrZ: stats.Defined(stats.Pearson(zlb, zbt, sdFloor)),
	}
}

// ZScores standardizes the finite values with the population standard
// deviation. Non-finite values stay NaN; a spread at or below 1e-12 gives
// zeros.
func ZScores(vals []float64) []float64 {
	var def []float64
	for _, v := range vals {
		if stats.IsFinite(v) {
			def = append(def, v)
		}
	}

	out := make([]float64, len(vals))
	if len(def) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	m := stats.Mean(def)
	sd := stats.PopStdDev(def)
	for i, v := range vals {
		switch {
		case !stats.IsFinite(v):
			out[i] = math.NaN()
		case sd <= sdFloor:
			out[i] = 0
		default:
			out[i] = (v - m) / sd
		}
	}
	return out
}

// scoreKey buckets a score so that near-equal scores compare equal in a
// transitive way.
func scoreKey(score float64) float64 {
	return math.Round(score / scoreTol)
}

// ToPercent maps z onto [0,100] as 100·Φ(z/√2) = 50·(1 + erf(z/2)).
func ToPercent(z float64) float64 {
	return 100 * stats.NormalCDF(z/math.Sqrt2)
}

// Rank orders entries by score quantized to 1e-9, breaking ties by LB
// (undefined last), BT, N_eff and coverage, all descending, then by deck
// name.
func Rank(es []Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if qa, qb := scoreKey(a.Score), scoreKey(b.Score); qa != qb {
			return qa > qb
		}
		switch {
		case a.LB != nil && b.LB == nil:
			return true
		case a.LB == nil && b.LB != nil:
			return false
		case a.LB != nil && b.LB != nil && *a.LB != *b.LB:
			return *a.LB > *b.LB
		}
		if a.BT != b.BT {
			return a.BT > b.BT
		}
		if a.NEff != b.NEff {
			return a.NEff > b.NEff
		}
		if a.Coverage != b.Coverage {
			return a.Coverage > b.Coverage
		}
		return a.Deck < b.Deck
	})
}
