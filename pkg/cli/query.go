package cli

import (
	"fmt"

	"github.com/mchmarny/metarank/pkg/data"
	"github.com/urfave/cli/v2"
)

const (
	queryResultLimitDefault = 500
)

var (
	queryLimitFlag = &cli.IntFlag{
		Name:     "limit",
		Usage:    "Limits number of result returned",
		Value:    queryResultLimitDefault,
		Required: false,
	}

	idFlag = &cli.StringFlag{
		Name:  "id",
		Usage: "Record ID (optional, default: latest)",
	}

	queryCmd = &cli.Command{
		Name:    "query",
		Aliases: []string{"q"},
		Usage:   "List data query operations",
		Subcommands: []*cli.Command{
			{
				Name:    "snapshots",
				Aliases: []string{"ss"},
				Usage:   "List stored snapshots, newest first",
				Action:  cmdQuerySnapshots,
				Flags: []cli.Flag{
					queryLimitFlag,
				},
			},
			{
				Name:    "snapshot",
				Aliases: []string{"s"},
				Usage:   "Get one stored snapshot with its match data",
				Action:  cmdQuerySnapshot,
				Flags: []cli.Flag{
					idFlag,
				},
			},
			{
				Name:    "runs",
				Aliases: []string{"rs"},
				Usage:   "List stored runs, newest first",
				Action:  cmdQueryRuns,
				Flags: []cli.Flag{
					snapshotFlag,
					queryLimitFlag,
				},
			},
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Get one stored run with its ranking and diagnostics",
				Action:  cmdQueryRun,
				Flags: []cli.Flag{
					idFlag,
				},
			},
			{
				Name:   "state",
				Usage:  "Show store row counts",
				Action: cmdQueryState,
			},
		},
	}
)

func cmdQuerySnapshots(c *cli.Context) error {
	cfg := getConfig(c)
	list, err := data.ListSnapshots(c.Context, cfg.DB, c.Int(queryLimitFlag.Name))
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	return encode(c, list)
}

func cmdQuerySnapshot(c *cli.Context) error {
	cfg := getConfig(c)
	id := c.String(idFlag.Name)
	if id == "" {
		var err error
		if id, err = data.GetLatestSnapshotID(c.Context, cfg.DB); err != nil {
			return err
		}
	}
	s, err := data.GetSnapshot(c.Context, cfg.DB, id)
	if err != nil {
		return err
	}
	return encode(c, s)
}

func cmdQueryRuns(c *cli.Context) error {
	cfg := getConfig(c)
	list, err := data.ListRuns(c.Context, cfg.DB, c.String(snapshotFlag.Name), c.Int(queryLimitFlag.Name))
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	return encode(c, list)
}

func cmdQueryRun(c *cli.Context) error {
	cfg := getConfig(c)

	var (
		r   *data.Run
		err error
	)
	if id := c.String(idFlag.Name); id != "" {
		r, err = data.GetRun(c.Context, cfg.DB, id)
	} else {
		r, err = data.GetLatestRun(c.Context, cfg.DB)
	}
	if err != nil {
		return err
	}
	return encode(c, r)
}

func cmdQueryState(c *cli.Context) error {
	cfg := getConfig(c)
	state, err := data.GetDataState(c.Context, cfg.DB)
	if err != nil {
		return fmt.Errorf("getting store state: %w", err)
	}
	return encode(c, state)
}
