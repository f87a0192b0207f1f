package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"
	dirMode        = 0700
	fileMode       = 0600

	EnvDBPath   = "METARANK_DB"
	EnvConfig   = "METARANK_CONFIG"
	EnvLogLevel = "METARANK_LOG_LEVEL"
	EnvSeed     = "METARANK_SEED"

	// KLowerBound and KUpperBound bound every regularization constant.
	KLowerBound = 0.05
	KUpperBound = 50.0

	GapPolicyProportional = "proportional"
	GapPolicyUniform      = "uniform"
	GapPolicyEncounter    = "encounter"
)

// Config is the engine and application configuration.
type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level" toml:"log_level" validate:"oneof=debug info warn warning error"`
	DBPath    string          `json:"db,omitempty" yaml:"db,omitempty" toml:"db,omitempty"`
	Seed      uint64          `json:"seed" yaml:"seed" toml:"seed"`
	Posterior PosteriorConfig `json:"posterior" yaml:"posterior" toml:"posterior"`
	KSelect   KSelectConfig   `json:"kselect" yaml:"kselect" toml:"kselect"`
	Meta      MetaConfig      `json:"meta" yaml:"meta" toml:"meta"`
	MAS       MASConfig       `json:"mas" yaml:"mas" toml:"mas"`
	BT        BTConfig        `json:"bt" yaml:"bt" toml:"bt"`
	Composite CompositeConfig `json:"composite" yaml:"composite" toml:"composite"`
}

// PosteriorConfig controls how ties enter the counts.
type PosteriorConfig struct {
	HalfTies       bool    `json:"half_ties" yaml:"half_ties" toml:"half_ties"`
	HalfTiesWeight float64 `json:"half_ties_weight" yaml:"half_ties_weight" toml:"half_ties_weight" validate:"gte=0,lte=1"`
}

// KSelectConfig controls the cross-validated choice of K.
type KSelectConfig struct {
	K             Tunable `json:"k" yaml:"k" toml:"k"`
	KMin          float64 `json:"k_min" yaml:"k_min" toml:"k_min" validate:"gte=0.05,lte=50"`
	RhoTest       float64 `json:"rho_test" yaml:"rho_test" toml:"rho_test" validate:"gt=0,lt=1"`
	BootN         int     `json:"boot_n" yaml:"boot_n" toml:"boot_n" validate:"gte=0,lte=10000"`
	RelTolLL      float64 `json:"rel_tol_ll" yaml:"rel_tol_ll" toml:"rel_tol_ll" validate:"gte=0,lt=1"`
	ExpandLoSteps int     `json:"expand_lo_steps" yaml:"expand_lo_steps" toml:"expand_lo_steps" validate:"gte=0,lte=10"`
	MinTest       int     `json:"min_test_if_n_ge_4" yaml:"min_test_if_n_ge_4" toml:"min_test_if_n_ge_4" validate:"gte=1"`
}

// MetaConfig controls the meta-share and encounter-share blend.
type MetaConfig struct {
	Gamma      Tunable `json:"gamma" yaml:"gamma" toml:"gamma"`
	GammaMin   float64 `json:"gamma_min" yaml:"gamma_min" toml:"gamma_min" validate:"gte=0,lte=1"`
	GammaMax   float64 `json:"gamma_max" yaml:"gamma_max" toml:"gamma_max" validate:"gte=0,lte=1,gtefield=GammaMin"`
	GammaBase  float64 `json:"gamma_base" yaml:"gamma_base" toml:"gamma_base" validate:"gte=0,lte=1"`
	GammaSlope float64 `json:"gamma_slope" yaml:"gamma_slope" toml:"gamma_slope" validate:"gte=0"`
	GapPolicy  string  `json:"gap_policy" yaml:"gap_policy" toml:"gap_policy" validate:"oneof=proportional uniform encounter"`
}

// MASConfig controls the lower-bound penalty.
type MASConfig struct {
	Z float64 `json:"z" yaml:"z" toml:"z" validate:"gte=0,lte=10"`
}

// BTConfig controls the Bradley-Terry solver.
type BTConfig struct {
	NMin      int     `json:"n_min" yaml:"n_min" toml:"n_min" validate:"gte=1"`
	SoftPower Tunable `json:"soft_power" yaml:"soft_power" toml:"soft_power"`
	NearBand  float64 `json:"near_band" yaml:"near_band" toml:"near_band" validate:"gte=0,lte=1"`
	Harmonic  bool    `json:"harmonic" yaml:"harmonic" toml:"harmonic"`
	Lambda    float64 `json:"lambda" yaml:"lambda" toml:"lambda" validate:"gte=0"`
	MaxIter   int     `json:"max_iter" yaml:"max_iter" toml:"max_iter" validate:"gte=1"`
	Tol       float64 `json:"tol" yaml:"tol" toml:"tol" validate:"gt=0"`
}

// CompositeConfig controls the z-score fusion.
type CompositeConfig struct {
	Alpha float64 `json:"alpha" yaml:"alpha" toml:"alpha" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Seed:     42,
		Posterior: PosteriorConfig{
			HalfTies:       false,
			HalfTiesWeight: 0.5,
		},
		KSelect: KSelectConfig{
			K:             Auto(),
			KMin:          0.10,
			RhoTest:       1.0 / 3.0,
			BootN:         50,
			RelTolLL:      1e-3,
			ExpandLoSteps: 2,
			MinTest:       2,
		},
		Meta: MetaConfig{
			Gamma:      Fixed(0.30),
			GammaMin:   0.10,
			GammaMax:   0.60,
			GammaBase:  0.10,
			GammaSlope: 1.5,
			GapPolicy:  GapPolicyEncounter,
		},
		MAS: MASConfig{
			Z: 1.2,
		},
		BT: BTConfig{
			NMin:      5,
			SoftPower: Auto(),
			NearBand:  0.10,
			Harmonic:  true,
			Lambda:    1.5,
			MaxIter:   500,
			Tol:       1e-6,
		},
		Composite: CompositeConfig{
			Alpha: 0.72,
		},
	}
}

// Load reads the configuration at path on top of the defaults. Files ending
// in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path required")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	c := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(b, c)
	} else {
		err = yaml.Unmarshal(b, c)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return c, nil
}

// Save writes c as YAML into dirPath.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(dirPath, configFileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate reads the config from directory or creates a default one.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	if _, err := os.Stat(dirPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dirPath, dirMode); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", dirPath, err)
		}
	}

	path := filepath.Join(dirPath, configFileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating default config", "path", path)
		if err := Save(dirPath, Default()); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	return Load(path)
}

// LoadEnv loads a .env file when present. A missing file is not an error.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("env file not loaded", "error", err)
	}
}

// ApplyEnv overrides c with METARANK_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvSeed); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvSeed, v, err)
		}
		c.Seed = seed
	}
	return nil
}

// GetOrCreateHomeDir returns the app directory under the user home.
// The created flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to get user home dir: %w", err)
	}

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}
