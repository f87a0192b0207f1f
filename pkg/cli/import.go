package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mchmarny/metarank/pkg/data"
	"github.com/mchmarny/metarank/pkg/ingest"
	"github.com/urfave/cli/v2"
)

var (
	matchupsFlag = &cli.StringFlag{
		Name:    "matchups",
		Aliases: []string{"m"},
		Usage:   "Flat matchup table (CSV file or http(s) URL) with Deck A, Deck B, W, L[, T, N] columns",
	}

	metaFlag = &cli.StringFlag{
		Name:  "meta",
		Usage: "Declared meta shares (CSV or JSON file or URL, optional)",
	}

	rosterFlag = &cli.StringFlag{
		Name:  "roster",
		Usage: "Deck roster, one deck per line (optional, default: decks in the matchup table)",
	}

	nameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "Snapshot name (optional, default: import time)",
	}

	archiveFlag = &cli.StringFlag{
		Name:  "archive",
		Usage: "Directory to keep a copy of remote sources in (optional)",
	}

	importCmd = &cli.Command{
		Name:    "import",
		Aliases: []string{"i"},
		Usage:   "Import match data into a new snapshot",
		UsageText: `metarank import --matchups score.csv                               # axis from the table
   metarank import --matchups score.csv --roster decks.txt --meta meta.csv   # fixed axis with meta shares
   metarank import --matchups https://example.com/score.csv --name week-12   # remote source`,
		Action: cmdImport,
		Flags: []cli.Flag{
			matchupsFlag,
			rosterFlag,
			metaFlag,
			nameFlag,
			archiveFlag,
		},
	}
)

type importResult struct {
	SnapshotID string `json:"snapshot_id" yaml:"snapshotId"`
	Name       string `json:"name" yaml:"name"`
	Decks      int    `json:"decks" yaml:"decks"`
	Matchups   int    `json:"matchups" yaml:"matchups"`
	MetaShares int    `json:"meta_shares" yaml:"metaShares"`
	Duration   string `json:"duration" yaml:"duration"`
}

func cmdImport(c *cli.Context) error {
	start := time.Now()
	cfg := getConfig(c)

	src := c.String(matchupsFlag.Name)
	if src == "" {
		return fmt.Errorf("--%s is required", matchupsFlag.Name)
	}

	snap, err := loadSnapshot(c, src)
	if err != nil {
		return err
	}

	if snap.Name = c.String(nameFlag.Name); snap.Name == "" {
		snap.Name = start.UTC().Format(time.RFC3339)
	}

	if err := data.SaveSnapshot(c.Context, cfg.DB, snap); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	res := &importResult{
		SnapshotID: snap.ID,
		Name:       snap.Name,
		Decks:      len(snap.Axis),
		Matchups:   len(snap.Matchups),
		MetaShares: len(snap.MetaShares),
		Duration:   time.Since(start).String(),
	}
	slog.Info("snapshot imported", "id", res.SnapshotID, "decks", res.Decks, "matchups", res.Matchups)

	return encode(c, res)
}

// loadSnapshot reads the matchup table at src plus the optional roster and
// meta share sources named by the command flags.
func loadSnapshot(c *cli.Context, src string) (*data.Snapshot, error) {
	ctx := c.Context

	// with --archive, remote sources are read from their saved copies
	local := func(s string) (string, error) {
		dir := c.String(archiveFlag.Name)
		if dir == "" || s == "" {
			return s, nil
		}
		return ingest.Archive(ctx, s, dir)
	}

	from, err := local(src)
	if err != nil {
		return nil, err
	}
	rows, err := ingest.LoadMatchups(ctx, from)
	if err != nil {
		return nil, err
	}

	snap := &data.Snapshot{Source: src, Matchups: rows}

	roster, err := local(c.String(rosterFlag.Name))
	if err != nil {
		return nil, err
	}
	metaSrc, err := local(c.String(metaFlag.Name))
	if err != nil {
		return nil, err
	}

	if roster != "" {
		if snap.Axis, err = ingest.LoadRoster(ctx, roster); err != nil {
			return nil, err
		}
	} else {
		snap.Axis = ingest.AxisFromMatchups(rows)
	}

	if metaSrc != "" {
		if snap.MetaShares, err = ingest.LoadMetaShares(ctx, metaSrc); err != nil {
			return nil, err
		}
	}

	slog.Debug("match data loaded", "source", src, "decks", len(snap.Axis), "rows", len(rows), "meta", len(snap.MetaShares))
	return snap, nil
}
