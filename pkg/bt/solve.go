package bt

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/stats"
)

const (
	neutral   = 0.5
	denomEps  = 1e-12
	relEps    = 1e-9
	piFloor   = 1e-8
	sdFloor   = 1e-12
)

// ErrEmptyGraph marks a solve where no edge survived the filter. It is a
// warning: every deck gets a neutral strength.
var ErrEmptyGraph = errors.New("no comparison edge survived the confidence filter")

// NumericDegeneracyError is returned when the MM iteration does not reach
// tolerance or produces non-finite strengths.
type NumericDegeneracyError struct {
	Iterations int
	Residual   float64
	Strengths  []float64
}

func (e *NumericDegeneracyError) Error() string {
	return fmt.Sprintf("strength solver did not converge after %d iterations (residual %g)", e.Iterations, e.Residual)
}

// Result holds the Bradley-Terry strength of every deck mapped to [0,1]
// (logistic of θ/sd(θ)) in axis order.
type Result struct {
	Axis        []string
	Strength    []float64
	Pi          []float64
	Diagnostics Diagnostics
	// Empty is set when no edge was kept; Strength is all 0.5.
	Empty bool
}

// Solve runs the ridge-regularized minorization-maximization iteration
//
//	π_i ← (W_i + λ) / (Σ_j n_eff(ij)/(π_i + π_j) + λ)
//
// with Jacobi updates until the largest relative change is below tol.
func Solve(g *Graph, cfg config.BTConfig) (*Result, error) {
	if g == nil {
		return nil, errors.New("graph required")
	}

	t := len(g.Axis)
	res := &Result{
		Axis:        g.Axis,
		Strength:    make([]float64, t),
		Pi:          make([]float64, t),
		Diagnostics: g.Diagnostics,
	}
	for i := range res.Strength {
		res.Strength[i] = neutral
		res.Pi[i] = 1
	}

	if len(g.Edges) == 0 {
		res.Empty = true
		res.Diagnostics.Converged = true
		slog.Warn("empty comparison graph, strengths set to neutral",
			"dropped", g.Dropped, "s_min", g.SMin)
		return res, nil
	}

	wins := make([]float64, t)
	type opp struct {
		j    int
		nEff float64
	}
	opps := make([][]opp, t)
	for _, e := range g.Edges {
		wins[e.I] += e.W
		wins[e.J] += e.NEff - e.W
		opps[e.I] = append(opps[e.I], opp{e.J, e.NEff})
		opps[e.J] = append(opps[e.J], opp{e.I, e.NEff})
	}

	pi := make([]float64, t)
	for i := range pi {
		pi[i] = 1
	}
	next := make([]float64, t)

	lambda := cfg.Lambda
	converged := false
	iter := 0
	var residual float64
	for iter < cfg.MaxIter {
		iter++
		residual = 0
		for i := 0; i < t; i++ {
			var den float64
			for _, o := range opps[i] {
				den += o.nEff / (pi[i] + pi[o.j] + denomEps)
			}
			upd := (wins[i] + lambda) / (den + lambda + denomEps)
			residual = math.Max(residual, math.Abs(upd-pi[i])/(pi[i]+relEps))
			next[i] = math.Max(upd, piFloor)
		}
		pi, next = next, pi
		if !stats.IsFinite(residual) {
			break
		}
		if residual < cfg.Tol {
			converged = true
			break
		}
	}

	res.Diagnostics.Iterations = iter
	res.Diagnostics.Residual = residual

	finite := true
	for _, v := range pi {
		if !stats.IsFinite(v) {
			finite = false
			break
		}
	}
	if !converged || !finite {
		return nil, &NumericDegeneracyError{Iterations: iter, Residual: residual, Strengths: pi}
	}
	res.Diagnostics.Converged = true

	// geometric mean and spread over decks with at least one edge only
	var connected []int
	for i := range opps {
		if len(opps[i]) > 0 {
			connected = append(connected, i)
		}
	}

	var logSum float64
	for _, i := range connected {
		logSum += math.Log(pi[i])
	}
	gm := math.Exp(logSum / float64(len(connected)))

	theta := make([]float64, len(connected))
	for n, i := range connected {
		res.Pi[i] = pi[i] / gm
		theta[n] = math.Log(res.Pi[i])
	}
	sd := stats.PopStdDev(theta)
	if !(sd > sdFloor) {
		sd = 1
	}
	for n, i := range connected {
		res.Strength[i] = 1 / (1 + math.Exp(-theta[n]/sd))
	}

	slog.Debug("strengths solved",
		"edges", len(g.Edges),
		"iterations", iter,
		"residual", residual,
		"soft_power", g.SoftPower)

	return res, nil
}
