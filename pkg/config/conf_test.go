package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ReadOrCreate(t *testing.T) {
	dir := t.TempDir()

	c1, err := ReadOrCreate(dir)
	require.NoError(t, err)
	require.NotNil(t, c1)
	assert.Equal(t, Default(), c1)

	c1.Seed = 7
	c1.Composite.Alpha = 0.5
	c1.KSelect.K = Fixed(6)
	require.NoError(t, Save(dir, c1))

	c2, err := ReadOrCreate(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), c2.Seed)
	assert.Equal(t, 0.5, c2.Composite.Alpha)
	assert.Equal(t, Fixed(6), c2.KSelect.K)
}

func TestConfig_SaveErrors(t *testing.T) {
	assert.Error(t, Save("", Default()))
	assert.Error(t, Save(t.TempDir(), nil))
	_, err := ReadOrCreate("")
	assert.Error(t, err)
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metarank.toml")
	content := `
seed = 9

[meta]
gap_policy = "uniform"

[meta.gamma]
mode = "auto"

[bt]
n_min = 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), c.Seed)
	assert.Equal(t, GapPolicyUniform, c.Meta.GapPolicy)
	assert.True(t, c.Meta.Gamma.IsAuto())
	assert.Equal(t, 8, c.BT.NMin)
	// untouched values keep their defaults
	assert.Equal(t, 0.72, c.Composite.Alpha)
	assert.NoError(t, c.Validate())
}

func TestLoad_YAMLPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metarank.yaml")
	content := "kselect:\n  k:\n    mode: fixed\n    value: 4\nmas:\n  z: 1.5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Fixed(4), c.KSelect.K)
	assert.Equal(t, 1.5, c.MAS.Z)
	assert.Equal(t, 50, c.KSelect.BootN)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_Default(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate_RangeErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"k too small", func(c *Config) { c.KSelect.K = Fixed(0.01) }},
		{"k too large", func(c *Config) { c.KSelect.K = Fixed(51) }},
		{"alpha above one", func(c *Config) { c.Composite.Alpha = 1.2 }},
		{"alpha negative", func(c *Config) { c.Composite.Alpha = -0.1 }},
		{"gamma fixed out of range", func(c *Config) { c.Meta.Gamma = Fixed(1.5) }},
		{"gamma max below min", func(c *Config) { c.Meta.GammaMin = 0.5; c.Meta.GammaMax = 0.2 }},
		{"bad gap policy", func(c *Config) { c.Meta.GapPolicy = "random" }},
		{"bad tunable mode", func(c *Config) { c.BT.SoftPower = Tunable{Mode: "sometimes"} }},
		{"zero tolerance", func(c *Config) { c.BT.Tol = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			var re *RangeError
			assert.True(t, errors.As(err, &re))
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/x.db")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvSeed, "123")

	c := Default()
	require.NoError(t, c.ApplyEnv())
	assert.Equal(t, "/tmp/x.db", c.DBPath)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, uint64(123), c.Seed)

	t.Setenv(EnvSeed, "nope")
	assert.Error(t, c.ApplyEnv())
}

func TestParseTunable(t *testing.T) {
	v, err := ParseTunable("auto")
	require.NoError(t, err)
	assert.True(t, v.IsAuto())

	v, err = ParseTunable("2.5")
	require.NoError(t, err)
	assert.Equal(t, Fixed(2.5), v)
	assert.Equal(t, "fixed(2.5)", v.String())

	v, err = ParseTunable(" 4 ")
	require.NoError(t, err)
	assert.Equal(t, Fixed(4), v)

	for _, in := range []string{"lots", "5abc", "1.5.2", "nan", "inf", "-Inf"} {
		_, err = ParseTunable(in)
		assert.Error(t, err, in)
	}
}
