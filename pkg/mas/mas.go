package mas

import (
	"errors"
	"log/slog"
	"math"

	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/mchmarny/metarank/pkg/meta"
	"github.com/mchmarny/metarank/pkg/posterior"
)

// Row is the meta-adjusted expected score of one deck. Values are
// fractions in [0,1]; Defined is false when the deck faced nobody.
type Row struct {
	Deck    string
	MAS     float64
	SE      float64
	LB      float64
	Defined bool
}

// Aggregate computes, for every deck A over its observed opponents B,
//
//	MAS(A) = Σ w_A(B)·p̂(A→B)
//	SE(A)  = sqrt(Σ w_A(B)²·Var[p̂(A→B)])
//	LB(A)  = MAS(A) − z·SE(A)
//
// with w_A the field weights p renormalized over Obs(A).
func Aggregate(pairs *posterior.Pairs, p []float64, z float64) ([]Row, error) {
	if pairs == nil {
		return nil, errors.New("posterior pairs required")
	}
	axis := pairs.P.Axis()
	if len(p) != len(axis) {
		return nil, &matrix.AlignmentError{Issues: []string{"field weights do not match deck axis"}}
	}

	rows := make([]Row, len(axis))
	for i, a := range axis {
		rows[i].Deck = a

		obs := make([]bool, len(axis))
		for j := range axis {
			obs[j] = i != j && pairs.P.At(i, j).Valid
		}
		w, ok := meta.RowWeights(p, obs)
		if !ok {
			slog.Debug("deck has no observed opponents", "deck", a)
			continue
		}

		var m, v float64
		for j := range axis {
			e, ok := pairs.Get(i, j)
			if !ok {
				continue
			}
			m += w[j] * e.P
			v += w[j] * w[j] * e.Var
		}
		se := math.Sqrt(math.Max(v, 0))
		rows[i] = Row{Deck: a, MAS: m, SE: se, LB: m - z*se, Defined: true}
	}

	return rows, nil
}
