package matrix

import (
	"fmt"
	"log/slog"
	"math"
)

const (
	wrSymmetryTolerancePP = 1.0
	percent               = 100.0
)

// Record is one row of the flat aggregated matchup table: deck A's results
// against deck B.
type Record struct {
	DeckA string  `json:"deck_a" yaml:"deckA"`
	DeckB string  `json:"deck_b" yaml:"deckB"`
	W     float64 `json:"w" yaml:"w"`
	L     float64 `json:"l" yaml:"l"`
	T     float64 `json:"t" yaml:"t"`
}

// Snapshot holds the directional win, loss, tie and volume (N = W + L)
// counts over one aligned deck axis.
type Snapshot struct {
	W *Matrix
	L *Matrix
	T *Matrix
	N *Matrix
}

func newSnapshot(axis []string) (*Snapshot, error) {
	var ms [4]*Matrix
	for i := range ms {
		m, err := New(axis)
		if err != nil {
			return nil, err
		}
		ms[i] = m
	}
	return &Snapshot{W: ms[0], L: ms[1], T: ms[2], N: ms[3]}, nil
}

// Axis is the deck axis shared by all matrices.
func (s *Snapshot) Axis() []string {
	return s.N.Axis()
}

// Size is the roster size.
func (s *Snapshot) Size() int {
	return s.N.Size()
}

// Observed reports whether A→B (i→j) has N > 0.
func (s *Snapshot) Observed(i, j int) bool {
	c := s.N.At(i, j)
	return c.Valid && c.Value > 0
}

// FromFlat pivots rows onto axis. Rows naming an off-axis deck, or a mirror,
// are skipped; duplicate ordered pairs are summed.
func FromFlat(axis []string, rows []Record) (*Snapshot, error) {
	s, err := newSnapshot(axis)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot: %w", err)
	}

	skipped := 0
	for _, r := range rows {
		i, okA := s.N.Index(r.DeckA)
		j, okB := s.N.Index(r.DeckB)
		if !okA || !okB || i == j {
			skipped++
			continue
		}
		for _, c := range []struct {
			field string
			v     float64
		}{{"w", r.W}, {"l", r.L}, {"t", r.T}} {
			if !validCount(c.v) {
				return nil, &CountError{DeckA: r.DeckA, DeckB: r.DeckB, Field: c.field, Value: c.v}
			}
		}
		s.W.Add(i, j, r.W)
		s.L.Add(i, j, r.L)
		s.T.Add(i, j, r.T)
		s.N.Add(i, j, r.W+r.L)
	}

	if skipped > 0 {
		slog.Debug("flat rows skipped", "count", skipped, "reason", "off-axis or mirror")
	}

	return s, nil
}

// FromRates derives counts from a percent win-rate matrix and a volume
// matrix: W = wr/100·N, L = N − W. Both must share an identical axis. Rates
// must lie on [0,100] and volumes must be finite and non-negative.
func FromRates(filteredWR, nDir *Matrix) (*Snapshot, error) {
	if err := CheckAlignment(filteredWR, nDir); err != nil {
		return nil, err
	}

	s, err := newSnapshot(nDir.Axis())
	if err != nil {
		return nil, fmt.Errorf("creating snapshot: %w", err)
	}

	axis := nDir.Axis()
	t := nDir.Size()
	for i := 0; i < t; i++ {
		for j := 0; j < t; j++ {
			if i == j {
				continue
			}
			n := nDir.At(i, j)
			if n.Valid && !validCount(n.Value) {
				return nil, &CountError{DeckA: axis[i], DeckB: axis[j], Field: "n", Value: n.Value}
			}
			wr := filteredWR.At(i, j)
			if wr.Valid && (math.IsNaN(wr.Value) || wr.Value < 0 || wr.Value > percent) {
				return nil, &CountError{DeckA: axis[i], DeckB: axis[j], Field: "wr", Value: wr.Value}
			}
			if !n.Valid || n.Value <= 0 || !wr.Valid {
				continue
			}
			w := wr.Value / percent * n.Value
			s.W.Set(i, j, w)
			s.L.Set(i, j, n.Value-w)
			s.T.Set(i, j, 0)
			s.N.Set(i, j, n.Value)
		}
	}

	return s, nil
}

func validCount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

// WithHalfTies returns a copy where each pair's ties count as weight of a
// win and weight of a loss: W' = W + w·T, L' = L + w·T, N' = W' + L'.
func (s *Snapshot) WithHalfTies(weight float64) *Snapshot {
	out := &Snapshot{W: s.W.Clone(), L: s.L.Clone(), T: s.T.Clone(), N: s.N.Clone()}
	t := s.Size()
	for i := 0; i < t; i++ {
		for j := 0; j < t; j++ {
			tc := s.T.At(i, j)
			if i == j || !tc.Valid || tc.Value <= 0 {
				continue
			}
			w := s.W.At(i, j).Value + weight*tc.Value
			l := s.L.At(i, j).Value + weight*tc.Value
			out.W.Set(i, j, w)
			out.L.Set(i, j, l)
			out.N.Set(i, j, w+l)
		}
	}
	return out
}

// WinRates returns the directional percent win-rate matrix W/(W+L)·100.
func (s *Snapshot) WinRates() *Matrix {
	wr := s.N.Clone()
	t := s.Size()
	for i := 0; i < t; i++ {
		for j := 0; j < t; j++ {
			wr.Clear(i, j)
			if s.Observed(i, j) {
				wr.Set(i, j, percent*s.W.At(i, j).Value/s.N.At(i, j).Value)
			}
		}
	}
	return wr
}

// ContractIssues lists non-fatal contract notes on an aligned WR/N pair:
// WR(A,B)+WR(B,A) off 100 by more than 1pp, or N not symmetric.
func ContractIssues(filteredWR, nDir *Matrix) []string {
	if !SameAxis(filteredWR, nDir) {
		return nil
	}

	var issues []string
	wrOff, nOff := 0, 0
	t := nDir.Size()
	for i := 0; i < t; i++ {
		for j := i + 1; j < t; j++ {
			a, b := filteredWR.At(i, j), filteredWR.At(j, i)
			if a.Valid && b.Valid && math.Abs(a.Value+b.Value-percent) > wrSymmetryTolerancePP {
				wrOff++
			}
			na, nb := nDir.At(i, j), nDir.At(j, i)
			if na.Value != nb.Value || na.Valid != nb.Valid {
				nOff++
			}
		}
	}

	if wrOff > 0 {
		issues = append(issues, fmt.Sprintf("WR symmetry off >%.1fpp on %d pairs", wrSymmetryTolerancePP, wrOff))
	}
	if nOff > 0 {
		issues = append(issues, fmt.Sprintf("n_dir not symmetric on %d pairs", nOff))
	}
	return issues
}
