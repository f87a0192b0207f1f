package kselect

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/mchmarny/metarank/pkg/posterior"
	"github.com/mchmarny/metarank/pkg/stats"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonFixed            = "fixed"
	ReasonBest             = "best"
	ReasonBootClipped      = "boot-clipped"
	ReasonBoundaryOverride = "best-boundary-override"

	boundaryEps     = 1e-12
	strongModeFreq  = 0.80
	strongIQRRatio  = 0.05
	unstableIQR     = 0.35
	unstableMode    = 0.50
	betaClipDivisor = 4.0
	pcgStream       = 0x9e3779b97f4a7c15
)

var gridMultipliers = []float64{0.25, 0.5, 1, 2, 4}

// ErrNoData is returned when there is nothing to cross-validate on.
var ErrNoData = errors.New("no observed pairs with held-out trials")

// Result is the chosen regularization constant and how it was reached.
type Result struct {
	Mode         config.Mode `json:"mode" yaml:"mode"`
	KUsed        float64     `json:"k_used" yaml:"kUsed"`
	KStar        float64     `json:"k_star" yaml:"kStar"`
	Reason       string      `json:"reason" yaml:"reason"`
	Grid         []float64   `json:"grid,omitempty" yaml:"grid,omitempty"`
	LogLik       []float64   `json:"log_lik,omitempty" yaml:"logLik,omitempty"`
	BetaAuto     *float64    `json:"beta_auto,omitempty" yaml:"betaAuto,omitempty"`
	NMedian      *float64    `json:"n_median,omitempty" yaml:"nMedian,omitempty"`
	N75          *float64    `json:"n_p75,omitempty" yaml:"nP75,omitempty"`
	DeltaLL100   *float64    `json:"delta_ll_100,omitempty" yaml:"deltaLL100,omitempty"`
	Expansions   int         `json:"expansions" yaml:"expansions"`
	PairsUsed    int         `json:"pairs_used" yaml:"pairsUsed"`
	BootMedian   *float64    `json:"boot_median,omitempty" yaml:"bootMedian,omitempty"`
	BootIQR      *float64    `json:"boot_iqr,omitempty" yaml:"bootIQR,omitempty"`
	BootModeFreq *float64    `json:"boot_mode_freq,omitempty" yaml:"bootModeFreq,omitempty"`
	RP10         *float64    `json:"r_p10,omitempty" yaml:"rP10,omitempty"`
	RP50         *float64    `json:"r_p50,omitempty" yaml:"rP50,omitempty"`
	RP90         *float64    `json:"r_p90,omitempty" yaml:"rP90,omitempty"`
	RSmallMedian *float64    `json:"r_small_median,omitempty" yaml:"rSmallMedian,omitempty"`
}

// Select resolves K for snapshot s. A fixed K is returned as is; Auto runs
// the held-out likelihood search seeded with seed.
func Select(s *matrix.Snapshot, cfg config.KSelectConfig, seed uint64) (Result, error) {
	if s == nil {
		return Result{}, errors.New("snapshot required")
	}

	ns, ws, ls := observed(s)

	if !cfg.K.IsAuto() {
		r := Result{
			Mode:   config.ModeFixed,
			KUsed:  cfg.K.Value,
			KStar:  cfg.K.Value,
			Reason: ReasonFixed,
		}
		shrinkDiagnostics(&r, ns)
		return r, nil
	}

	if len(ns) == 0 {
		return Result{}, fmt.Errorf("%w: no pair has N > 0", ErrNoData)
	}

	floor := math.Max(config.KLowerBound, cfg.KMin)
	nMed := stats.Median(ns)
	n75 := stats.Quantile(ns, 0.75)
	beta := math.Sqrt(math.Max(nMed, 1) * math.Max(n75, 1))

	splits := make([]split, len(ns))
	var used []int
	for i := range ns {
		splits[i] = splitCounts(ws[i], ls[i], cfg.RhoTest, cfg.MinTest)
		if splits[i].test() > 0 {
			used = append(used, i)
		}
	}
	if len(used) == 0 {
		return Result{}, fmt.Errorf("%w: every pair has fewer than two trials", ErrNoData)
	}

	ev := &evaluator{splits: splits, used: used}

	grid := makeGrid(beta, floor)
	ll, err := ev.scoreGrid(grid, used)
	if err != nil {
		return Result{}, err
	}
	best := pickSmallest(ll, cfg.RelTolLL)

	expansions := 0
	for best == 0 && grid[0] > floor+boundaryEps && expansions < cfg.ExpandLoSteps {
		ext := math.Max(grid[0]/2, floor)
		grid = dedupe(append([]float64{ext}, grid...))
		if ll, err = ev.scoreGrid(grid, used); err != nil {
			return Result{}, err
		}
		best = pickSmallest(ll, cfg.RelTolLL)
		expansions++
	}
	kStar := grid[best]
	gMin, gMax := grid[0], grid[len(grid)-1]

	kBase := stats.Clip(beta, gMin, gMax)
	var nTest float64
	for _, i := range used {
		nTest += splits[i].test()
	}
	dLL := 0.0
	if nTest > 0 {
		dLL = 100 * (ll[best] - ev.logLik(kBase, used)) / nTest
	}

	r := Result{
		Mode:       config.ModeAuto,
		KStar:      kStar,
		Grid:       grid,
		LogLik:     ll,
		BetaAuto:   stats.Defined(beta),
		NMedian:    stats.Defined(nMed),
		N75:        stats.Defined(n75),
		DeltaLL100: stats.Defined(dLL),
		Expansions: expansions,
		PairsUsed:  len(used),
	}

	clipLo := math.Max(gMin, floor)
	clipHi := math.Min(math.Min(gMax, config.KUpperBound), beta*4)
	atBoundary := math.Abs(kStar-gMin) <= boundaryEps || math.Abs(kStar-gMax) <= boundaryEps

	if cfg.BootN <= 0 {
		r.KUsed = stats.Clip(kStar, clipLo, clipHi)
		r.Reason = ReasonBest
		shrinkDiagnostics(&r, ns)
		return r, nil
	}

	boot, err := ev.bootstrap(kStar, gMin, gMax, cfg.BootN, seed)
	if err != nil {
		return Result{}, err
	}

	med := stats.Median(boot)
	iqr := stats.Quantile(boot, 0.75) - stats.Quantile(boot, 0.25)
	hits := 0
	for _, k := range boot {
		if math.Abs(k-kStar) <= boundaryEps {
			hits++
		}
	}
	mode := float64(hits) / float64(len(boot))
	r.BootMedian = stats.Defined(med)
	r.BootIQR = stats.Defined(iqr)
	r.BootModeFreq = stats.Defined(mode)

	strong := atBoundary && mode >= strongModeFreq && med > 0 && iqr/med <= strongIQRRatio
	switch {
	case strong:
		r.KUsed = stats.Clip(kStar, clipLo, clipHi)
		r.Reason = ReasonBoundaryOverride
	case atBoundary || (med > 0 && iqr/med > unstableIQR) || mode < unstableMode:
		r.KUsed = stats.Clip(med, math.Max(beta/betaClipDivisor, clipLo), clipHi)
		r.Reason = ReasonBootClipped
	default:
		r.KUsed = stats.Clip(kStar, clipLo, clipHi)
		r.Reason = ReasonBest
	}

	shrinkDiagnostics(&r, ns)

	slog.Debug("k selected",
		"k_used", r.KUsed,
		"k_star", kStar,
		"reason", r.Reason,
		"beta", beta,
		"grid", len(grid),
		"expansions", expansions)

	return r, nil
}

// observed returns N, W and L of every directional pair with N > 0 in
// row-major order.
func observed(s *matrix.Snapshot) (ns, ws, ls []float64) {
	t := s.Size()
	for i := 0; i < t; i++ {
		for j := 0; j < t; j++ {
			if i == j || !s.Observed(i, j) {
				continue
			}
			ns = append(ns, s.N.At(i, j).Value)
			ws = append(ws, s.W.At(i, j).Value)
			ls = append(ls, s.L.At(i, j).Value)
		}
	}
	return ns, ws, ls
}

func makeGrid(beta, floor float64) []float64 {
	grid := make([]float64, 0, len(gridMultipliers))
	for _, m := range gridMultipliers {
		grid = append(grid, stats.Clip(m*beta, floor, config.KUpperBound))
	}
	return dedupe(grid)
}

// dedupe sorts vals ascending and drops exact duplicates.
func dedupe(vals []float64) []float64 {
	out := slices.Clone(vals)
	slices.Sort(out)
	return slices.Compact(out)
}

// pickSmallest returns the first (smallest K) index whose log-likelihood is
// within relTol·max(1, |max|) of the maximum.
func pickSmallest(ll []float64, relTol float64) int {
	best := -1
	for i, v := range ll {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v > ll[best] {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	tol := relTol * math.Max(1, math.Abs(ll[best]))
	for i, v := range ll {
		if !math.IsNaN(v) && ll[best]-v <= tol {
			return i
		}
	}
	return best
}

// shrinkDiagnostics reports how strongly K_used pulls the observed pairs
// toward the prior: r = K/(K+N).
func shrinkDiagnostics(r *Result, ns []float64) {
	if len(ns) == 0 || r.KUsed <= 0 {
		return
	}
	rs := make([]float64, len(ns))
	for i, n := range ns {
		rs[i] = r.KUsed / (n + r.KUsed)
	}
	r.RP10 = stats.Defined(stats.Quantile(rs, 0.10))
	r.RP50 = stats.Defined(stats.Quantile(rs, 0.50))
	r.RP90 = stats.Defined(stats.Quantile(rs, 0.90))

	q25 := stats.Quantile(ns, 0.25)
	var small []float64
	for i, n := range ns {
		if n <= q25 {
			small = append(small, rs[i])
		}
	}
	r.RSmallMedian = stats.Defined(stats.Median(small))
}

type evaluator struct {
	splits []split
	used   []int
}

// logLik sums the Beta-Binomial predictive log-likelihood of the held-out
// trials of pairs idx under the prior Beta(μK + W_tr, (1−μ)K + L_tr).
func (e *evaluator) logLik(k float64, idx []int) float64 {
	if k <= 0 {
		return math.Inf(-1)
	}
	a0 := posterior.Mu * k
	b0 := (1 - posterior.Mu) * k
	var total float64
	for _, i := range idx {
		sp := e.splits[i]
		if sp.test() <= 0 {
			continue
		}
		alpha := a0 + sp.wtr
		beta := b0 + sp.ltr
		total += stats.LogBeta(sp.wte+alpha, sp.lte+beta) - stats.LogBeta(alpha, beta)
	}
	return total
}

func (e *evaluator) scoreGrid(grid []float64, idx []int) ([]float64, error) {
	ll := make([]float64, len(grid))
	var g errgroup.Group
	for i, k := range grid {
		g.Go(func() error {
			ll[i] = e.logLik(k, idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scoring grid: %w", err)
	}
	return ll, nil
}

// bootstrap resamples the used pairs n times and returns the local argmax K
// of each replicate. Samples are drawn up front from one seeded stream so
// the result does not depend on scheduling.
func (e *evaluator) bootstrap(kStar, lo, hi float64, n int, seed uint64) ([]float64, error) {
	local := dedupe([]float64{
		stats.Clip(kStar/math.Sqrt2, lo, hi),
		stats.Clip(kStar, lo, hi),
		stats.Clip(kStar*math.Sqrt2, lo, hi),
	})

	rng := rand.New(rand.NewPCG(seed, pcgStream))
	samples := make([][]int, n)
	for b := range samples {
		s := make([]int, len(e.used))
		for j := range s {
			s[j] = e.used[rng.IntN(len(e.used))]
		}
		samples[b] = s
	}

	out := make([]float64, n)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for b, idx := range samples {
		g.Go(func() error {
			bestK, bestLL := local[0], math.Inf(-1)
			for _, k := range local {
				// strict comparison keeps the smallest K on exact ties
				if v := e.logLik(k, idx); v > bestLL {
					bestK, bestLL = k, v
				}
			}
			out[b] = bestK
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return out, nil
}
