package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/data"
	"github.com/mchmarny/metarank/pkg/engine"
	"github.com/mchmarny/metarank/pkg/ingest"
	"github.com/mchmarny/metarank/pkg/metrics"
	"github.com/urfave/cli/v2"
)

var (
	snapshotFlag = &cli.StringFlag{
		Name:    "snapshot",
		Aliases: []string{"s"},
		Usage:   "Stored snapshot ID (optional, default: latest snapshot)",
	}

	winRateFlag = &cli.StringFlag{
		Name:  "wr",
		Usage: "Square directional win rate matrix in percent (CSV, used with --n)",
	}

	volumeFlag = &cli.StringFlag{
		Name:  "n",
		Usage: "Square directional match volume matrix (CSV, used with --wr)",
	}

	saveFlag = &cli.BoolFlag{
		Name:  "save",
		Usage: "Persist the run in the store",
	}

	fullFlag = &cli.BoolFlag{
		Name:  "full",
		Usage: "Include diagnostics, coverage and missing pairs in the output",
	}

	kFlag = &cli.StringFlag{
		Name:  "k",
		Usage: "Regularization constant K [auto or number] (optional, default: config)",
	}

	gammaFlag = &cli.StringFlag{
		Name:  "gamma",
		Usage: "Meta vs encounter blend weight [auto or number] (optional, default: config)",
	}

	softPowerFlag = &cli.StringFlag{
		Name:  "soft-power",
		Usage: "Bradley-Terry edge weight exponent [auto or number] (optional, default: config)",
	}

	alphaFlag = &cli.Float64Flag{
		Name:  "alpha",
		Usage: "Weight of the lower bound in the composite score (optional, default: config)",
	}

	halfTiesFlag = &cli.BoolFlag{
		Name:  "half-ties",
		Usage: "Count each tie as half a win and half a loss",
	}

	seedFlag = &cli.Uint64Flag{
		Name:  "seed",
		Usage: "Seed for the K bootstrap (optional, default: config)",
	}

	rankCmd = &cli.Command{
		Name:    "rank",
		Aliases: []string{"r"},
		Usage:   "Rank the decks of a snapshot",
		UsageText: `metarank rank                                         # latest stored snapshot
   metarank rank --snapshot 3f2a... --save                # stored snapshot, persist the run
   metarank rank --matchups score.csv --meta meta.csv     # files, nothing stored
   metarank rank --wr wr.csv --n n.csv --k 4              # rate matrices with a fixed K`,
		Action: cmdRank,
		Flags: []cli.Flag{
			snapshotFlag,
			matchupsFlag,
			rosterFlag,
			metaFlag,
			winRateFlag,
			volumeFlag,
			saveFlag,
			fullFlag,
			kFlag,
			gammaFlag,
			softPowerFlag,
			alphaFlag,
			halfTiesFlag,
			seedFlag,
		},
	}
)

type rankOutput struct {
	RunID        string              `json:"run_id,omitempty" yaml:"runId,omitempty"`
	SnapshotID   string              `json:"snapshot_id,omitempty" yaml:"snapshotId,omitempty"`
	KUsed        float64             `json:"k_used" yaml:"kUsed"`
	Duration     string              `json:"duration" yaml:"duration"`
	Ranking      []engine.Record     `json:"ranking" yaml:"ranking"`
	Warnings     []engine.Warning    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Diagnostics  *engine.Diagnostics `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Coverage     any                 `json:"coverage,omitempty" yaml:"coverage,omitempty"`
	MissingPairs any                 `json:"missing_pairs,omitempty" yaml:"missingPairs,omitempty"`
}

func cmdRank(c *cli.Context) error {
	app := getConfig(c)

	cfg, err := rankConfig(c, app.Config)
	if err != nil {
		return err
	}

	in, snapshotID, err := rankInput(c, app.DB)
	if err != nil {
		return err
	}

	save := c.Bool(saveFlag.Name)
	if save && snapshotID == "" {
		return errors.New("--save requires a stored snapshot, import the data first")
	}

	run, err := execute(c.Context, app.DB, snapshotID, in, cfg, save)
	if err != nil {
		return err
	}

	return encode(c, newRankOutput(run, c.Bool(fullFlag.Name)))
}

func newRankOutput(run *data.Run, full bool) *rankOutput {
	out := &rankOutput{
		RunID:      run.ID,
		SnapshotID: run.SnapshotID,
		KUsed:      run.Result.Diagnostics.K.KUsed,
		Duration:   run.Duration.String(),
		Ranking:    run.Result.Ranking,
		Warnings:   run.Result.Diagnostics.Warnings,
	}
	if full {
		out.Diagnostics = &run.Result.Diagnostics
		out.Coverage = run.Result.Coverage
		out.MissingPairs = run.Result.MissingPairs
	}
	return out
}

// rankConfig applies the command flags on a copy of base.
func rankConfig(c *cli.Context, base *config.Config) (*config.Config, error) {
	cfg := *base

	tunables := []struct {
		flag *cli.StringFlag
		dst  *config.Tunable
	}{
		{kFlag, &cfg.KSelect.K},
		{gammaFlag, &cfg.Meta.Gamma},
		{softPowerFlag, &cfg.BT.SoftPower},
	}
	for _, t := range tunables {
		if !c.IsSet(t.flag.Name) {
			continue
		}
		v, err := config.ParseTunable(c.String(t.flag.Name))
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", t.flag.Name, err)
		}
		*t.dst = v
	}

	if c.IsSet(alphaFlag.Name) {
		cfg.Composite.Alpha = c.Float64(alphaFlag.Name)
	}
	if c.IsSet(halfTiesFlag.Name) {
		cfg.Posterior.HalfTies = c.Bool(halfTiesFlag.Name)
	}
	if c.IsSet(seedFlag.Name) {
		cfg.Seed = c.Uint64(seedFlag.Name)
	}

	return &cfg, nil
}

// rankInput resolves the engine input from rate matrices, a matchup file
// or a stored snapshot, in that order.
func rankInput(c *cli.Context, db *sql.DB) (engine.Input, string, error) {
	ctx := c.Context

	wr, n := c.String(winRateFlag.Name), c.String(volumeFlag.Name)
	switch {
	case wr != "" || n != "":
		if wr == "" || n == "" {
			return engine.Input{}, "", fmt.Errorf("--%s and --%s must be used together", winRateFlag.Name, volumeFlag.Name)
		}
		in := engine.Input{}
		var err error
		if in.FilteredWR, err = ingest.LoadMatrix(ctx, wr); err != nil {
			return engine.Input{}, "", err
		}
		if in.NDir, err = ingest.LoadMatrix(ctx, n); err != nil {
			return engine.Input{}, "", err
		}
		if p := c.String(metaFlag.Name); p != "" {
			if in.MetaShares, err = ingest.LoadMetaShares(ctx, p); err != nil {
				return engine.Input{}, "", err
			}
		}
		return in, "", nil

	case c.String(matchupsFlag.Name) != "":
		snap, err := loadSnapshot(c, c.String(matchupsFlag.Name))
		if err != nil {
			return engine.Input{}, "", err
		}
		return snap.Input(), "", nil

	default:
		id := c.String(snapshotFlag.Name)
		if id == "" {
			var err error
			if id, err = data.GetLatestSnapshotID(ctx, db); err != nil {
				return engine.Input{}, "", fmt.Errorf("no snapshot to rank, import data first: %w", err)
			}
		}
		snap, err := data.GetSnapshot(ctx, db, id)
		if err != nil {
			return engine.Input{}, "", err
		}
		return snap.Input(), snap.ID, nil
	}
}

// execute runs the engine, records metrics and optionally stores the run.
func execute(ctx context.Context, db *sql.DB, snapshotID string, in engine.Input, cfg *config.Config, save bool) (*data.Run, error) {
	start := time.Now()
	res, err := engine.Run(in, cfg)
	d := time.Since(start)
	metrics.ObserveRun(d, res, err)
	if err != nil {
		return nil, fmt.Errorf("ranking decks: %w", err)
	}

	run := &data.Run{
		SnapshotID: snapshotID,
		Duration:   d,
		Config:     cfg,
		Result:     res,
	}
	if save {
		if err := data.SaveRun(ctx, db, run); err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
	}

	slog.Info("decks ranked",
		"run", run.ID,
		"snapshot", snapshotID,
		"decks", len(res.Ranking),
		"k_used", res.Diagnostics.K.KUsed,
		"warnings", len(res.Diagnostics.Warnings),
		"duration", d)

	return run, nil
}
