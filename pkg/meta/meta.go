package meta

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/mchmarny/metarank/pkg/stats"
)

const (
	eps            = 1e-12
	percentCutover = 1.0 + 1e-9
)

// Share is one row of the declared meta-share table. Values above 1 are
// read as percentages.
type Share struct {
	Deck  string  `json:"deck" yaml:"deck"`
	Share float64 `json:"share" yaml:"share"`
}

// Info describes how the field weights were produced.
type Info struct {
	Policy     string      `json:"policy" yaml:"policy"`
	GammaMode  config.Mode `json:"gamma_mode" yaml:"gammaMode"`
	Gamma      float64     `json:"gamma" yaml:"gamma"`
	TV         float64     `json:"tv" yaml:"tv"`
	Corr       *float64    `json:"corr,omitempty" yaml:"corr,omitempty"`
	OnAxisMass float64     `json:"on_axis_mass" yaml:"onAxisMass"`
	Declared   bool        `json:"declared" yaml:"declared"`
}

// Weights is the blended field distribution p(B) over the deck axis.
type Weights struct {
	Axis []string  `json:"axis" yaml:"axis"`
	P    []float64 `json:"p" yaml:"p"`
	Meta []float64 `json:"p_meta" yaml:"pMeta"`
	Enc  []float64 `json:"p_enc" yaml:"pEnc"`
}

// Blend mixes the declared meta shares with the observed encounter shares:
// p = (1−γ)·p_meta + γ·p_enc, renormalized. A nil or empty share table
// makes p_meta uniform.
func Blend(s *matrix.Snapshot, shares []Share, cfg config.MetaConfig) (*Weights, Info, error) {
	if s == nil {
		return nil, Info{}, errors.New("snapshot required")
	}

	axis := s.Axis()
	enc := EncounterShare(s)
	mt, mass := MetaShare(axis, shares, enc, cfg.GapPolicy)

	var tv float64
	for i := range axis {
		tv += math.Abs(mt[i] - enc[i])
	}
	tv *= 0.5

	info := Info{
		Policy:     cfg.GapPolicy,
		TV:         tv,
		OnAxisMass: mass,
		Declared:   len(shares) > 0,
	}

	var floor *float64
	if cfg.Gamma.IsAuto() {
		info.GammaMode = config.ModeAuto
		info.Gamma = stats.Clip(cfg.GammaBase+cfg.GammaSlope*tv, cfg.GammaMin, cfg.GammaMax)
		f := eps
		floor = &f
	} else {
		info.GammaMode = config.ModeFixed
		info.Gamma = cfg.Gamma.Value
	}
	if info.Gamma < 0 || info.Gamma > 1 {
		return nil, Info{}, fmt.Errorf("blend weight %g outside [0,1]", info.Gamma)
	}

	p := make([]float64, len(axis))
	for i := range p {
		p[i] = (1-info.Gamma)*mt[i] + info.Gamma*enc[i]
	}
	p = normalize(p, floor)

	if len(axis) > 1 {
		info.Corr = stats.Defined(stats.Pearson(mt, enc, eps))
	}

	slog.Debug("meta blended",
		"policy", info.Policy,
		"gamma", info.Gamma,
		"gamma_mode", info.GammaMode,
		"tv", tv,
		"on_axis_mass", mass)

	return &Weights{Axis: axis, P: p, Meta: mt, Enc: enc}, info, nil
}

// EncounterShare is the column sum of N, normalized; uniform when no
// trial was played.
func EncounterShare(s *matrix.Snapshot) []float64 {
	t := s.Size()
	col := make([]float64, t)
	for i := 0; i < t; i++ {
		for j := 0; j < t; j++ {
			if c := s.N.At(i, j); c.Valid && i != j {
				col[j] += c.Value
			}
		}
	}
	return normalize(col, nil)
}

// MetaShare maps declared shares onto axis and fills the off-axis gap
// using policy. It also returns the on-axis mass before filling.
func MetaShare(axis []string, shares []Share, enc []float64, policy string) ([]float64, float64) {
	t := len(axis)
	if len(shares) == 0 {
		return uniform(t), 0
	}

	idx := make(map[string]int, t)
	for i, d := range axis {
		idx[d] = i
	}

	scale := 1.0
	for _, s := range shares {
		if s.Share > percentCutover {
			scale = 100
			break
		}
	}

	p := make([]float64, t)
	var mass float64
	for _, s := range shares {
		i, ok := idx[s.Deck]
		if !ok || !stats.IsFinite(s.Share) || s.Share <= 0 {
			continue
		}
		v := s.Share / scale
		p[i] += v
		mass += v
	}
	if mass <= 0 {
		return uniform(t), 0
	}

	if gap := 1 - mass; gap > 0 {
		var w []float64
		switch policy {
		case config.GapPolicyUniform:
			w = uniform(t)
		case config.GapPolicyEncounter:
			w = normalize(enc, nil)
		default:
			w = make([]float64, t)
			for i := range p {
				w[i] = p[i] / mass
			}
		}
		for i := range p {
			p[i] += gap * w[i]
		}
	}

	return normalize(p, nil), mass
}

// RowWeights renormalizes p over the opponents a deck actually faced:
// w(B) = p(B)/Σ_{C∈obs} p(C). Uniform over obs when that mass is zero.
// ok is false when obs is empty.
func RowWeights(p []float64, obs []bool) ([]float64, bool) {
	w := make([]float64, len(p))
	var mass float64
	count := 0
	for i, o := range obs {
		if !o {
			continue
		}
		count++
		mass += p[i]
	}
	if count == 0 {
		return nil, false
	}

	for i, o := range obs {
		if !o {
			continue
		}
		if mass > 0 && stats.IsFinite(mass) {
			w[i] = p[i] / mass
		} else {
			w[i] = 1 / float64(count)
		}
	}
	return w, true
}

func uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// normalize scales vals to sum to 1, flooring each value first when floor
// is set. Uniform when the total is not positive.
func normalize(vals []float64, floor *float64) []float64 {
	out := make([]float64, len(vals))
	var tot float64
	for i, v := range vals {
		if !stats.IsFinite(v) {
			v = 0
		}
		if floor != nil && v < *floor {
			v = *floor
		}
		out[i] = v
		tot += v
	}
	if !stats.IsFinite(tot) || tot <= 0 {
		return uniform(len(vals))
	}
	for i := range out {
		out[i] /= tot
	}
	return out
}
