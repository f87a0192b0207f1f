package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/urfave/cli/v2"
)

var (
	dirFlag = &cli.StringFlag{
		Name:  "dir",
		Usage: "Directory to write config.yaml into (optional, default: ~/.metarank)",
	}

	forceFlag = &cli.BoolFlag{
		Name:  "force",
		Usage: "Overwrite an existing config file",
	}

	configCmd = &cli.Command{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Configuration operations",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: cmdConfigShow,
			},
			{
				Name:   "init",
				Usage:  "Write the default configuration",
				Action: cmdConfigInit,
				Flags: []cli.Flag{
					dirFlag,
					forceFlag,
				},
			},
		},
	}
)

func cmdConfigShow(c *cli.Context) error {
	cfg := getConfig(c)
	if err := cfg.Config.Validate(); err != nil {
		slog.Warn("configuration is not valid", "error", err)
	}
	return encode(c, cfg.Config)
}

func cmdConfigInit(c *cli.Context) error {
	dir := c.String(dirFlag.Name)
	if dir == "" {
		dir = getConfig(c).HomeDir
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil && !c.Bool(forceFlag.Name) {
		return fmt.Errorf("%s already exists, use --%s to overwrite", path, forceFlag.Name)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", path, err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := config.Save(dir, config.Default()); err != nil {
		return err
	}

	slog.Info("config written", "path", path)
	return encode(c, map[string]string{"path": path})
}
