package matrix

import (
	"sort"
)

const missingSampleMax = 5

// CoverageRow summarizes how much of the roster a deck has been observed
// against.
type CoverageRow struct {
	Deck          string   `json:"deck" yaml:"deck"`
	OppUsed       int      `json:"opp_used" yaml:"oppUsed"`
	OppTotal      int      `json:"opp_total" yaml:"oppTotal"`
	Missing       int      `json:"missing" yaml:"missing"`
	Coverage      float64  `json:"coverage_pct" yaml:"coveragePct"`
	NEff          float64  `json:"n_eff" yaml:"nEff"`
	MissingSample []string `json:"missing_sample,omitempty" yaml:"missingSample,omitempty"`
}

// Pair is an ordered deck pair.
type Pair struct {
	Deck     string `json:"deck" yaml:"deck"`
	Opponent string `json:"opponent" yaml:"opponent"`
}

// Coverage returns one row per deck in axis order.
func Coverage(s *Snapshot) []CoverageRow {
	axis := s.Axis()
	t := len(axis)
	oppTotal := t - 1

	rows := make([]CoverageRow, t)
	for i, a := range axis {
		r := CoverageRow{Deck: a, OppTotal: oppTotal}
		for j, b := range axis {
			if i == j {
				continue
			}
			if s.Observed(i, j) {
				r.OppUsed++
				r.NEff += s.N.At(i, j).Value
				continue
			}
			if len(r.MissingSample) < missingSampleMax {
				r.MissingSample = append(r.MissingSample, b)
			}
		}
		r.Missing = oppTotal - r.OppUsed
		den := oppTotal
		if den < 1 {
			den = 1
		}
		r.Coverage = float64(r.OppUsed) / float64(den) * percent
		rows[i] = r
	}
	return rows
}

// SortCoverage orders rows most-missing first, then fewest used, then name.
func SortCoverage(rows []CoverageRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Missing != rows[j].Missing {
			return rows[i].Missing > rows[j].Missing
		}
		if rows[i].OppUsed != rows[j].OppUsed {
			return rows[i].OppUsed < rows[j].OppUsed
		}
		return rows[i].Deck < rows[j].Deck
	})
}

// MissingPairs lists every unobserved ordered pair sorted by deck then
// opponent.
func MissingPairs(s *Snapshot) []Pair {
	axis := s.Axis()
	var out []Pair
	for i, a := range axis {
		for j, b := range axis {
			if i != j && !s.Observed(i, j) {
				out = append(out, Pair{Deck: a, Opponent: b})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Deck != out[j].Deck {
			return out[i].Deck < out[j].Deck
		}
		return out[i].Opponent < out[j].Opponent
	})
	return out
}
