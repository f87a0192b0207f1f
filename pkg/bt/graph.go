package bt

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/mchmarny/metarank/pkg/posterior"
	"github.com/mchmarny/metarank/pkg/stats"
)

const (
	pBarClip      = 1e-9
	nEffFloor     = 1e-9
	leverageFloor = 1e-12
	topEdgesMax   = 5

	softPowerBase = 1.5
	softPowerMax  = 2.1
)

// Edge is one kept unordered pair i<j with its soft weights. W is deck i's
// fractional wins against j; the remainder of NEff goes to j.
type Edge struct {
	I     int     `json:"-" yaml:"-"`
	J     int     `json:"-" yaml:"-"`
	A     string  `json:"deck_a" yaml:"deckA"`
	B     string  `json:"deck_b" yaml:"deckB"`
	NAB   float64 `json:"n_ab" yaml:"nAB"`
	NBA   float64 `json:"n_ba" yaml:"nBA"`
	NBase float64 `json:"n_base" yaml:"nBase"`
	SBar  float64 `json:"s_bar" yaml:"sBar"`
	PBar  float64 `json:"p_bar" yaml:"pBar"`
	NEff  float64 `json:"n_eff" yaml:"nEff"`
	W     float64 `json:"w" yaml:"w"`
}

// Graph is the filtered, soft-weighted comparison graph the solver runs on.
type Graph struct {
	Axis          []string
	Edges         []Edge
	Dropped       int
	SMin          float64
	SoftPower     float64
	SoftPowerMode config.Mode
	Diagnostics   Diagnostics
}

// LeverageEdge is an entry of the most influential edges list.
type LeverageEdge struct {
	A        string  `json:"deck_a" yaml:"deckA"`
	B        string  `json:"deck_b" yaml:"deckB"`
	Leverage float64 `json:"leverage" yaml:"leverage"`
	NBase    float64 `json:"n_base" yaml:"nBase"`
	PBar     float64 `json:"p_bar" yaml:"pBar"`
}

// Diagnostics summarizes the graph and the solve.
type Diagnostics struct {
	Kept             int            `json:"kept" yaml:"kept"`
	Dropped          int            `json:"dropped" yaml:"dropped"`
	SMin             float64        `json:"s_min" yaml:"sMin"`
	NearThresholdPct float64        `json:"near_threshold_pct" yaml:"nearThresholdPct"`
	SBarMedian       *float64       `json:"s_bar_median,omitempty" yaml:"sBarMedian,omitempty"`
	LeverageHHI      *float64       `json:"leverage_hhi,omitempty" yaml:"leverageHHI,omitempty"`
	TopEdges         []LeverageEdge `json:"top_edges,omitempty" yaml:"topEdges,omitempty"`
	MinOpponents     int            `json:"min_opponents" yaml:"minOpponents"`
	MedianOpponents  float64        `json:"median_opponents" yaml:"medianOpponents"`
	SoftPower        float64        `json:"soft_power" yaml:"softPower"`
	SoftPowerMode    config.Mode    `json:"soft_power_mode" yaml:"softPowerMode"`
	Isolated         []string       `json:"isolated,omitempty" yaml:"isolated,omitempty"`
	Iterations       int            `json:"iterations" yaml:"iterations"`
	Residual         float64        `json:"residual" yaml:"residual"`
	Converged        bool           `json:"converged" yaml:"converged"`
}

type candidate struct {
	i, j     int
	nab, nba float64
	nBase    float64
	sBar     float64
	pBar     float64
}

// Build filters the unordered pairs by mean confidence s̄ ≥ N_min/(N_min+K)
// and derives each kept edge's effective volume n_base·s̄^γ and fractional
// wins.
func Build(s *matrix.Snapshot, pairs *posterior.Pairs, k float64, cfg config.BTConfig) (*Graph, error) {
	if s == nil || pairs == nil {
		return nil, errors.New("snapshot and posterior pairs required")
	}
	if err := matrix.CheckAlignment(s.N, pairs.P); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("regularization constant must be positive: %g", k)
	}

	axis := s.Axis()
	nMin := float64(cfg.NMin)
	g := &Graph{Axis: axis, SMin: nMin / (nMin + k)}

	var kept []candidate
	for i := range axis {
		for j := i + 1; j < len(axis); j++ {
			nab := volume(s, i, j)
			nba := volume(s, j, i)
			if nab <= 0 && nba <= 0 {
				continue
			}

			var sv []float64
			for _, n := range []float64{nab, nba} {
				if n > 0 {
					sv = append(sv, posterior.Confidence(n, k))
				}
			}
			sBar := stats.Mean(sv)
			if sBar < g.SMin {
				g.Dropped++
				continue
			}

			p1, ok1 := pairs.Get(i, j)
			p2, ok2 := pairs.Get(j, i)
			var pBar float64
			switch {
			case ok1 && ok2:
				pBar = 0.5 * (p1.P + (1 - p2.P))
			case ok1:
				pBar = p1.P
			case ok2:
				pBar = 1 - p2.P
			default:
				g.Dropped++
				continue
			}

			var nBase float64
			if cfg.Harmonic && nab > 0 && nba > 0 {
				nBase = 2 * nab * nba / (nab + nba)
			} else {
				var obs []float64
				for _, n := range []float64{nab, nba} {
					if n > 0 {
						obs = append(obs, n)
					}
				}
				nBase = stats.Mean(obs)
			}

			kept = append(kept, candidate{i: i, j: j, nab: nab, nba: nba, nBase: nBase, sBar: sBar, pBar: pBar})
		}
	}

	g.Diagnostics = describe(axis, kept, g.SMin, cfg.NearBand)
	g.Diagnostics.Dropped = g.Dropped

	if cfg.SoftPower.IsAuto() {
		g.SoftPowerMode = config.ModeAuto
		g.SoftPower = autoSoftPower(g.Diagnostics)
	} else {
		g.SoftPowerMode = config.ModeFixed
		g.SoftPower = cfg.SoftPower.Value
	}
	g.Diagnostics.SoftPower = g.SoftPower
	g.Diagnostics.SoftPowerMode = g.SoftPowerMode

	g.Edges = make([]Edge, 0, len(kept))
	for _, c := range kept {
		pBar := stats.Clip(c.pBar, pBarClip, 1-pBarClip)
		nEff := math.Max(c.nBase*math.Pow(c.sBar, g.SoftPower), nEffFloor)
		g.Edges = append(g.Edges, Edge{
			I: c.i, J: c.j,
			A: axis[c.i], B: axis[c.j],
			NAB: c.nab, NBA: c.nba,
			NBase: c.nBase,
			SBar:  c.sBar,
			PBar:  pBar,
			NEff:  nEff,
			W:     pBar * nEff,
		})
	}

	return g, nil
}

func volume(s *matrix.Snapshot, i, j int) float64 {
	if c := s.N.At(i, j); c.Valid && c.Value > 0 {
		return c.Value
	}
	return 0
}

func describe(axis []string, kept []candidate, sMin, band float64) Diagnostics {
	d := Diagnostics{Kept: len(kept), SMin: sMin}

	opp := make([]float64, len(axis))
	for _, c := range kept {
		opp[c.i]++
		opp[c.j]++
	}
	minOpp := math.Inf(1)
	for _, o := range opp {
		minOpp = math.Min(minOpp, o)
	}
	d.MinOpponents = int(minOpp)
	d.MedianOpponents = stats.Median(opp)
	for i, o := range opp {
		if o == 0 {
			d.Isolated = append(d.Isolated, axis[i])
		}
	}

	if len(kept) == 0 {
		return d
	}

	sbars := make([]float64, len(kept))
	lev := make([]float64, len(kept))
	near := 0
	top := make([]LeverageEdge, len(kept))
	for n, c := range kept {
		sbars[n] = c.sBar
		if c.sBar >= sMin && c.sBar < sMin+band {
			near++
		}
		// leverage n_base·|p̄ − 0.5|
		lev[n] = math.Max(c.nBase, leverageFloor) * math.Abs(c.pBar-0.5)
		top[n] = LeverageEdge{A: axis[c.i], B: axis[c.j], Leverage: lev[n], NBase: c.nBase, PBar: c.pBar}
	}
	d.NearThresholdPct = 100 * float64(near) / float64(len(kept))
	d.SBarMedian = stats.Defined(stats.Median(sbars))
	d.LeverageHHI = stats.Defined(stats.HHI(lev))

	sort.SliceStable(top, func(a, b int) bool {
		return top[a].Leverage > top[b].Leverage
	})
	if len(top) > topEdgesMax {
		top = top[:topEdgesMax]
	}
	d.TopEdges = top

	return d
}

// autoSoftPower raises γ above its base when many edges sit just above the
// threshold, confidence is low overall, leverage is concentrated, or some
// deck has few opponents.
func autoSoftPower(d Diagnostics) float64 {
	if d.Kept == 0 {
		return softPowerBase
	}
	clip01 := func(x float64) float64 { return stats.Clip(x, 0, 1) }

	nearShare := d.NearThresholdPct / 100
	sMed := 0.60
	if d.SBarMedian != nil {
		sMed = *d.SBarMedian
	}
	hhi := 0.10
	if d.LeverageHHI != nil {
		hhi = *d.LeverageHHI
	}

	x1 := clip01((nearShare - 0.15) / 0.15)
	x2 := clip01((0.60 - sMed) / 0.10)
	x3 := clip01((hhi - 0.10) / 0.05)
	x4 := clip01((8 - float64(d.MinOpponents)) / 5)

	return stats.Clip(softPowerBase+0.4*x1+0.2*x2+0.2*x3+0.1*x4, softPowerBase, softPowerMax)
}
