package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mchmarny/metarank/pkg/bt"
	"github.com/mchmarny/metarank/pkg/composite"
	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/kselect"
	"github.com/mchmarny/metarank/pkg/mas"
	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/mchmarny/metarank/pkg/meta"
	"github.com/mchmarny/metarank/pkg/posterior"
	"github.com/mchmarny/metarank/pkg/stats"
)

const percent = 100.0

// Input is one snapshot of match data. Either Flat or the FilteredWR/NDir
// pair must be set. When both matrices are given they must share an
// identical axis; Axis defaults to that of NDir.
type Input struct {
	Axis       []string
	FilteredWR *matrix.Matrix
	NDir       *matrix.Matrix
	Flat       []matrix.Record
	MetaShares []meta.Share
}

// Record is one ranked deck. Percent values are on [0,100]; MAS, LB and SE
// are nil when the deck faced nobody.
type Record struct {
	Rank     int      `json:"rank" yaml:"rank"`
	Deck     string   `json:"deck" yaml:"deck"`
	Score    float64  `json:"score_pct" yaml:"scorePct"`
	MAS      *float64 `json:"mas_pct,omitempty" yaml:"masPct,omitempty"`
	LB       *float64 `json:"lb_pct,omitempty" yaml:"lbPct,omitempty"`
	BT       float64  `json:"bt_pct" yaml:"btPct"`
	SE       *float64 `json:"se_pct,omitempty" yaml:"sePct,omitempty"`
	NEff     float64  `json:"n_eff" yaml:"nEff"`
	OppUsed  int      `json:"opp_used" yaml:"oppUsed"`
	OppTotal int      `json:"opp_total" yaml:"oppTotal"`
	Coverage float64  `json:"coverage_pct" yaml:"coveragePct"`
}

// FieldWeight is the blended field share of one deck and its sources.
type FieldWeight struct {
	Deck  string  `json:"deck" yaml:"deck"`
	P     float64 `json:"p" yaml:"p"`
	PMeta float64 `json:"p_meta" yaml:"pMeta"`
	PEnc  float64 `json:"p_enc" yaml:"pEnc"`
}

// Diagnostics collects what each stage decided.
type Diagnostics struct {
	K         kselect.Result `json:"k" yaml:"k"`
	Meta      meta.Info      `json:"meta" yaml:"meta"`
	Weights   []FieldWeight  `json:"weights" yaml:"weights"`
	BT        bt.Diagnostics `json:"bt" yaml:"bt"`
	Composite composite.Info `json:"composite" yaml:"composite"`
	Warnings  []Warning      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Issues    []string       `json:"issues,omitempty" yaml:"issues,omitempty"`
	HalfTies  bool           `json:"half_ties" yaml:"halfTies"`
	Seed      uint64         `json:"seed" yaml:"seed"`
}

// Result is the output of one run.
type Result struct {
	Ranking      []Record             `json:"ranking" yaml:"ranking"`
	Diagnostics  Diagnostics          `json:"diagnostics" yaml:"diagnostics"`
	Coverage     []matrix.CoverageRow `json:"coverage" yaml:"coverage"`
	MissingPairs []matrix.Pair        `json:"missing_pairs,omitempty" yaml:"missingPairs,omitempty"`
}

// Snapshot builds the aligned count snapshot for in, along with any
// non-fatal contract notes.
func Snapshot(in Input) (*matrix.Snapshot, []string, error) {
	var issues []string

	hasRates := in.FilteredWR != nil || in.NDir != nil
	if hasRates {
		if err := matrix.CheckAlignment(in.FilteredWR, in.NDir); err != nil {
			return nil, nil, fmt.Errorf("validating input matrices: %w", err)
		}
		issues = matrix.ContractIssues(in.FilteredWR, in.NDir)
	}

	axis := in.Axis
	if len(axis) == 0 && in.NDir != nil {
		axis = in.NDir.Axis()
	}
	if hasRates && len(in.Axis) > 0 {
		ref, err := matrix.New(in.Axis)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid deck axis: %w", err)
		}
		if err := matrix.CheckAlignment(ref, in.NDir); err != nil {
			return nil, nil, fmt.Errorf("validating deck axis: %w", err)
		}
	}

	switch {
	case len(in.Flat) > 0:
		if len(axis) == 0 {
			return nil, nil, fmt.Errorf("%w: flat table needs a deck axis", ErrNoInput)
		}
		s, err := matrix.FromFlat(axis, in.Flat)
		if err != nil {
			return nil, nil, fmt.Errorf("pivoting flat table: %w", err)
		}
		return s, issues, nil
	case hasRates:
		s, err := matrix.FromRates(in.FilteredWR, in.NDir)
		if err != nil {
			return nil, nil, fmt.Errorf("deriving counts from rates: %w", err)
		}
		return s, issues, nil
	default:
		return nil, nil, ErrNoInput
	}
}

// Run ranks the decks of in. It is deterministic for a given cfg.Seed.
func Run(in Input, cfg *config.Config) (*Result, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	snap, issues, err := Snapshot(in)
	if err != nil {
		return nil, err
	}
	if cfg.Posterior.HalfTies {
		snap = snap.WithHalfTies(cfg.Posterior.HalfTiesWeight)
	}
	axis := snap.Axis()

	slog.Debug("running engine", "decks", len(axis), "flat_rows", len(in.Flat), "meta_rows", len(in.MetaShares))

	ks, err := kselect.Select(snap, cfg.KSelect, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("selecting regularization constant: %w", err)
	}
	k := ks.KUsed

	pairs, err := posterior.Smooth(snap, k)
	if err != nil {
		return nil, fmt.Errorf("smoothing pairs: %w", err)
	}

	weights, metaInfo, err := meta.Blend(snap, in.MetaShares, cfg.Meta)
	if err != nil {
		return nil, fmt.Errorf("blending field weights: %w", err)
	}

	rows, err := mas.Aggregate(pairs, weights.P, cfg.MAS.Z)
	if err != nil {
		return nil, fmt.Errorf("aggregating expected scores: %w", err)
	}

	graph, err := bt.Build(snap, pairs, k, cfg.BT)
	if err != nil {
		return nil, fmt.Errorf("building comparison graph: %w", err)
	}
	strengths, err := bt.Solve(graph, cfg.BT)
	if err != nil {
		var nde *bt.NumericDegeneracyError
		if errors.As(err, &nde) {
			slog.Error("strength solver degenerate", "iterations", nde.Iterations, "residual", nde.Residual)
		}
		return nil, fmt.Errorf("solving strengths: %w", err)
	}

	diag := Diagnostics{
		K:        ks,
		Meta:     metaInfo,
		BT:       strengths.Diagnostics,
		Issues:   issues,
		HalfTies: cfg.Posterior.HalfTies,
		Seed:     cfg.Seed,
	}
	for i, d := range axis {
		diag.Weights = append(diag.Weights, FieldWeight{Deck: d, P: weights.P[i], PMeta: weights.Meta[i], PEnc: weights.Enc[i]})
	}

	for _, r := range rows {
		if !r.Defined {
			diag.Warnings = append(diag.Warnings, Warning{
				Kind:    InsufficientDataWarning,
				Deck:    r.Deck,
				Message: "no observed opponents, expected score undefined",
			})
		}
	}
	if strengths.Empty {
		diag.Warnings = append(diag.Warnings, Warning{Kind: EmptyGraphWarning, Message: bt.ErrEmptyGraph.Error()})
	}
	for _, w := range diag.Warnings {
		slog.Warn("ranking warning", "kind", w.Kind, "deck", w.Deck, "message", w.Message)
	}

	cov := matrix.Coverage(snap)
	inputs := make([]composite.Input, len(axis))
	byDeck := make(map[string]int, len(axis))
	for i, d := range axis {
		byDeck[d] = i
		inputs[i] = composite.Input{
			Deck:     d,
			BT:       strengths.Strength[i],
			NEff:     cov[i].NEff,
			Coverage: cov[i].Coverage,
		}
		if rows[i].Defined {
			lb := rows[i].LB
			inputs[i].LB = &lb
		}
	}

	entries, compInfo := composite.Score(inputs, cfg.Composite.Alpha)
	diag.Composite = compInfo

	res := &Result{
		Ranking:      make([]Record, len(entries)),
		Diagnostics:  diag,
		Coverage:     cov,
		MissingPairs: matrix.MissingPairs(snap),
	}
	for n, e := range entries {
		i := byDeck[e.Deck]
		rec := Record{
			Rank:     n + 1,
			Deck:     e.Deck,
			Score:    e.Score,
			BT:       percent * e.BT,
			NEff:     cov[i].NEff,
			OppUsed:  cov[i].OppUsed,
			OppTotal: cov[i].OppTotal,
			Coverage: cov[i].Coverage,
		}
		if r := rows[i]; r.Defined {
			rec.MAS = stats.Defined(percent * r.MAS)
			rec.LB = stats.Defined(percent * r.LB)
			rec.SE = stats.Defined(percent * r.SE)
		}
		res.Ranking[n] = rec
	}

	slog.Debug("engine done",
		"decks", len(axis),
		"k_used", k,
		"bt_edges", strengths.Diagnostics.Kept,
		"warnings", len(diag.Warnings))

	return res, nil
}
