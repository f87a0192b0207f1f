package posterior

import (
	"errors"
	"fmt"

	"github.com/mchmarny/metarank/pkg/matrix"
	"golang.org/x/sync/errgroup"
)

// Mu is the prior mean of every directional win probability.
const Mu = 0.5

// Estimate is the smoothed win probability of one directional pair and its
// posterior variance.
type Estimate struct {
	P   float64 `json:"p" yaml:"p"`
	Var float64 `json:"var" yaml:"var"`
}

// Pairs holds p̂, Var[p̂] and the confidence s = N/(N+K) for every
// directional pair of a snapshot. Cells with N = 0 and the diagonal are
// invalid.
type Pairs struct {
	K   float64
	P   *matrix.Matrix
	Var *matrix.Matrix
	S   *matrix.Matrix
}

var errInvalidK = errors.New("regularization constant must be positive")

// Compute returns the Beta-Binomial posterior for w wins and l losses under
// the prior Beta(μK, (1−μ)K). ok is false when there are no trials.
func Compute(w, l, k float64) (Estimate, bool) {
	n := w + l
	if n <= 0 || k <= 0 {
		return Estimate{}, false
	}
	a := w + Mu*k
	b := l + (1-Mu)*k
	ab := a + b
	return Estimate{
		P:   a / ab,
		Var: a * b / (ab * ab * (ab + 1)),
	}, true
}

// Confidence is N/(N+K).
func Confidence(n, k float64) float64 {
	if n <= 0 {
		return 0
	}
	return n / (n + k)
}

// Smooth applies Compute to every observed directional pair of s. Rows are
// computed concurrently; each row only writes its own cells.
func Smooth(s *matrix.Snapshot, k float64) (*Pairs, error) {
	if s == nil {
		return nil, errors.New("snapshot required")
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: %g", errInvalidK, k)
	}

	axis := s.Axis()
	out := &Pairs{K: k}
	var err error
	if out.P, err = matrix.New(axis); err != nil {
		return nil, fmt.Errorf("creating estimate matrix: %w", err)
	}
	out.Var, _ = matrix.New(axis)
	out.S, _ = matrix.New(axis)

	t := s.Size()
	var g errgroup.Group
	for i := 0; i < t; i++ {
		g.Go(func() error {
			for j := 0; j < t; j++ {
				if i == j || !s.Observed(i, j) {
					continue
				}
				e, ok := Compute(s.W.At(i, j).Value, s.L.At(i, j).Value, k)
				if !ok {
					continue
				}
				out.P.Set(i, j, e.P)
				out.Var.Set(i, j, e.Var)
				out.S.Set(i, j, Confidence(s.N.At(i, j).Value, k))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// Get returns the estimate for i→j when defined.
func (p *Pairs) Get(i, j int) (Estimate, bool) {
	c := p.P.At(i, j)
	if !c.Valid {
		return Estimate{}, false
	}
	return Estimate{P: c.Value, Var: p.Var.At(i, j).Value}, true
}
