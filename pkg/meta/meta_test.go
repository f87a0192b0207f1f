package meta

import (
	"testing"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func testSnapshot(t *testing.T) *matrix.Snapshot {
	t.Helper()
	s, err := matrix.FromFlat([]string{"a", "b", "c"}, []matrix.Record{
		{DeckA: "a", DeckB: "b", W: 6, L: 4},
		{DeckA: "b", DeckB: "a", W: 4, L: 6},
		{DeckA: "a", DeckB: "c", W: 15, L: 15},
		{DeckA: "c", DeckB: "b", W: 5, L: 5},
	})
	require.NoError(t, err)
	return s
}

func TestEncounterShare(t *testing.T) {
	enc := EncounterShare(testSnapshot(t))
	// column sums: a=10, b=20, c=30
	assert.InDeltaSlice(t, []float64{1.0 / 6, 2.0 / 6, 3.0 / 6}, enc, 1e-12)

	empty, err := matrix.FromFlat([]string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, EncounterShare(empty), 1e-12)
}

func TestMetaShare_Policies(t *testing.T) {
	axis := []string{"a", "b", "c"}
	enc := []float64{0.2, 0.3, 0.5}
	shares := []Share{{"a", 30}, {"b", 20}, {"off", 40}, {"a", 10}}

	tests := []struct {
		policy string
		exp    []float64
	}{
		{config.GapPolicyProportional, []float64{0.4 / 0.6, 0.2 / 0.6, 0}},
		{config.GapPolicyUniform, []float64{0.4 + 0.4/3, 0.2 + 0.4/3, 0.4 / 3}},
		{config.GapPolicyEncounter, []float64{0.4 + 0.4*0.2, 0.2 + 0.4*0.3, 0.4 * 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			p, mass := MetaShare(axis, shares, enc, tt.policy)
			assert.InDelta(t, 0.6, mass, 1e-12)
			assert.InDeltaSlice(t, tt.exp, p, 1e-12)
			assert.InDelta(t, 1.0, sum(p), 1e-12)
		})
	}
}

func TestMetaShare_UniformFallback(t *testing.T) {
	axis := []string{"a", "b"}
	p, _ := MetaShare(axis, nil, nil, config.GapPolicyEncounter)
	assert.Equal(t, []float64{0.5, 0.5}, p)

	p, mass := MetaShare(axis, []Share{{"x", 0.7}}, nil, config.GapPolicyEncounter)
	assert.Equal(t, []float64{0.5, 0.5}, p)
	assert.Equal(t, 0.0, mass)
}

func TestBlend_SumsToOne(t *testing.T) {
	s := testSnapshot(t)
	shares := []Share{{"a", 0.5}, {"b", 0.3}}

	for _, g := range []float64{0, 0.1, 0.3, 0.5, 0.9, 1} {
		cfg := config.Default().Meta
		cfg.Gamma = config.Fixed(g)
		w, info, err := Blend(s, shares, cfg)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sum(w.P), 1e-12)
		assert.Equal(t, g, info.Gamma)
		for _, v := range w.P {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestBlend_AutoGamma(t *testing.T) {
	s := testSnapshot(t)
	cfg := config.Default().Meta
	cfg.Gamma = config.Auto()

	w, info, err := Blend(s, []Share{{"a", 0.9}, {"b", 0.05}, {"c", 0.05}}, cfg)
	require.NoError(t, err)
	assert.Equal(t, config.ModeAuto, info.GammaMode)
	// p_meta (.9,.05,.05) vs p_enc (1/6,1/3,1/2): TV = .7333…
	assert.InDelta(t, 0.9-1.0/6, info.TV, 1e-12)
	assert.InDelta(t, 0.60, info.Gamma, 1e-12)
	assert.InDelta(t, 1.0, sum(w.P), 1e-12)
	require.NotNil(t, info.Corr)

	// identical distributions: TV=0, gamma at base
	_, info, err = Blend(s, []Share{{"a", 1}, {"b", 2}, {"c", 3}}, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, info.TV, 1e-12)
	assert.InDelta(t, 0.10, info.Gamma, 1e-12)
}

func TestRowWeights(t *testing.T) {
	p := []float64{0.5, 0.3, 0.2}

	w, ok := RowWeights(p, []bool{false, true, true})
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{0, 0.6, 0.4}, w, 1e-12)

	w, ok = RowWeights([]float64{0.5, 0, 0}, []bool{false, true, true})
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{0, 0.5, 0.5}, w, 1e-12)

	_, ok = RowWeights(p, []bool{false, false, false})
	assert.False(t, ok)
}
