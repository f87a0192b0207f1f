package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/data"
	"github.com/mchmarny/metarank/pkg/logging"
	urfave "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	appName      = "metarank"
	appConfigKey = "app-config"

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	debugFlag = &urfave.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}

	dbFilePathFlag = &urfave.StringFlag{
		Name:    "db",
		Usage:   "Path to the Sqlite database file",
		EnvVars: []string{config.EnvDBPath},
	}

	configFileFlag = &urfave.StringFlag{
		Name:    "config",
		Usage:   "Path to the config file (yaml or toml, default: ~/.metarank/config.yaml)",
		EnvVars: []string{config.EnvConfig},
	}

	formatFlag = &urfave.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultCLILogger("info")
	config.LoadEnv()

	app := newApp()
	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

type appConfig struct {
	HomeDir string
	DBPath  string
	Debug   bool
	Format  string
	Config  *config.Config
	DB      *sql.DB
}

func getConfig(c *urfave.Context) *appConfig {
	return c.App.Metadata[appConfigKey].(*appConfig)
}

func newApp() *urfave.App {
	return &urfave.App{
		Name:                 appName,
		Version:              fmt.Sprintf("%s (%s - %s)", version, commit, date),
		Compiled:             time.Now(),
		EnableBashCompletion: true,
		HideHelpCommand:      true,
		Usage:                "Rank decks of a competitive metagame from head-to-head match data",
		Flags: []urfave.Flag{
			debugFlag,
			dbFilePathFlag,
			configFileFlag,
			formatFlag,
		},
		Commands: []*urfave.Command{
			importCmd,
			rankCmd,
			queryCmd,
			configCmd,
			serverCmd,
			resetCmd,
		},
		Before: setup,
		After: func(c *urfave.Context) error {
			if cfg, ok := c.App.Metadata[appConfigKey].(*appConfig); ok && cfg.DB != nil {
				cfg.DB.Close()
			}
			return nil
		},
	}
}

// setup resolves the configuration (defaults, file, environment, flags),
// sets up logging and opens the store.
func setup(c *urfave.Context) error {
	home, _, err := config.GetOrCreateHomeDir(appName)
	if err != nil {
		slog.Debug("error getting home dir, using current dir instead", "error", err)
		home = "."
	}

	var cfg *config.Config
	if p := c.String(configFileFlag.Name); p != "" {
		cfg, err = config.Load(p)
	} else {
		cfg, err = config.ReadOrCreate(home)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("applying environment: %w", err)
	}

	debug := c.Bool(debugFlag.Name)
	if debug {
		cfg.LogLevel = "debug"
	}
	slog.SetDefault(slog.New(logging.NewCLIHandler(c.App.ErrWriter, logging.ParseLogLevel(cfg.LogLevel))))

	format := formatJSON
	if f := c.String(formatFlag.Name); f == formatYAML || f == "yml" {
		format = formatYAML
	}

	dbPath := c.String(dbFilePathFlag.Name)
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	if dbPath == "" {
		dbPath = filepath.Join(home, data.DataFileName)
	}

	if err := data.Init(dbPath); err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}

	db, err := data.GetDB(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	slog.Debug("app configured", "home", home, "db", dbPath, "seed", cfg.Seed)

	c.App.Metadata[appConfigKey] = &appConfig{
		HomeDir: home,
		DBPath:  dbPath,
		Debug:   debug,
		Format:  format,
		Config:  cfg,
		DB:      db,
	}
	return nil
}

func encode(c *urfave.Context, v any) error {
	return encodeTo(c.App.Writer, getConfig(c).Format, v)
}

func encodeTo(w io.Writer, format string, v any) error {
	if format == formatYAML {
		e := yaml.NewEncoder(w)
		defer e.Close()
		return e.Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
