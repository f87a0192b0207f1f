package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mchmarny/metarank/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	t    *testing.T
	home string
	db   string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(config.EnvDBPath, "")
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv(config.EnvSeed, "")
	return &testApp{t: t, home: home, db: filepath.Join(home, "test.db")}
}

// run executes the app with args and returns what it wrote to stdout.
func (a *testApp) run(stdin string, args ...string) (string, error) {
	a.t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{appName, "--db", a.db}, args...))
	return out.String(), err
}

func (a *testApp) mustRun(args ...string) string {
	a.t.Helper()
	out, err := a.run("", args...)
	require.NoError(a.t, err, out)
	return out
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

func TestApp_Setup(t *testing.T) {
	a := newTestApp(t)
	a.mustRun("query", "state")

	_, err := os.Stat(filepath.Join(a.home, ".metarank", "config.yaml"))
	assert.NoError(t, err)
	_, err = os.Stat(a.db)
	assert.NoError(t, err)
}

func TestApp_ImportRankQuery(t *testing.T) {
	a := newTestApp(t)

	out := a.mustRun("import",
		"--matchups", "testdata/matchups.csv",
		"--roster", "testdata/roster.txt",
		"--meta", "testdata/meta.csv",
		"--name", "week-1")
	imp := decode[importResult](t, out)
	require.NotEmpty(t, imp.SnapshotID)
	assert.Equal(t, 6, imp.Decks)
	assert.Equal(t, 20, imp.Matchups)
	assert.Equal(t, 4, imp.MetaShares)

	out = a.mustRun("rank", "--save")
	ranked := decode[rankOutput](t, out)
	require.NotEmpty(t, ranked.RunID)
	assert.Equal(t, imp.SnapshotID, ranked.SnapshotID)
	require.Len(t, ranked.Ranking, 6)
	assert.Equal(t, "aggro", ranked.Ranking[0].Deck)
	require.Len(t, ranked.Warnings, 1)
	assert.Equal(t, "rogue", ranked.Warnings[0].Deck)
	assert.Nil(t, ranked.Diagnostics)

	out = a.mustRun("query", "runs")
	runs := decode[[]map[string]any](t, out)
	require.Len(t, runs, 1)
	assert.Equal(t, ranked.RunID, runs[0]["id"])
	assert.Equal(t, "aggro", runs[0]["top"])

	out = a.mustRun("query", "run")
	run := decode[map[string]any](t, out)
	assert.Equal(t, ranked.RunID, run["id"])

	out = a.mustRun("query", "snapshots")
	snaps := decode[[]map[string]any](t, out)
	require.Len(t, snaps, 1)
	assert.Equal(t, "week-1", snaps[0]["name"])

	out = a.mustRun("query", "state")
	state := decode[map[string]int64](t, out)
	assert.Equal(t, int64(1), state["run"])
	assert.Equal(t, int64(6), state["ranking"])
}

func TestApp_RankFromFiles(t *testing.T) {
	a := newTestApp(t)

	out := a.mustRun("rank", "--matchups", "testdata/matchups.csv", "--k", "4", "--alpha", "0.5", "--full")
	ranked := decode[rankOutput](t, out)
	assert.Empty(t, ranked.RunID)
	assert.Equal(t, 4.0, ranked.KUsed)
	require.NotNil(t, ranked.Diagnostics)
	assert.Equal(t, 0.5, ranked.Diagnostics.Composite.Alpha)
	assert.Len(t, ranked.Ranking, 5)

	_, err := a.run("", "rank", "--matchups", "testdata/matchups.csv", "--save")
	assert.Error(t, err)

	_, err = a.run("", "rank", "--matchups", "testdata/matchups.csv", "--k", "nope")
	assert.Error(t, err)

	_, err = a.run("", "rank", "--matchups", "testdata/matchups.csv", "--k", "5abc")
	assert.Error(t, err)

	_, err = a.run("", "rank", "--matchups", "testdata/matchups.csv", "--alpha", "2")
	assert.Error(t, err)
}

func TestApp_RankRateMatrices(t *testing.T) {
	a := newTestApp(t)
	dir := t.TempDir()
	wr := filepath.Join(dir, "wr.csv")
	n := filepath.Join(dir, "n.csv")
	require.NoError(t, os.WriteFile(wr, []byte(",a,b,c\na,,70,60\nb,30,,55\nc,40,45,\n"), 0o600))
	require.NoError(t, os.WriteFile(n, []byte(",a,b,c\na,,20,30\nb,20,,10\nc,30,10,\n"), 0o600))

	out := a.mustRun("rank", "--wr", wr, "--n", n, "--k", "4")
	ranked := decode[rankOutput](t, out)
	require.Len(t, ranked.Ranking, 3)
	assert.Equal(t, "a", ranked.Ranking[0].Deck)

	_, err := a.run("", "rank", "--wr", wr)
	assert.Error(t, err)
}

func TestApp_RankWithoutData(t *testing.T) {
	a := newTestApp(t)
	_, err := a.run("", "rank")
	assert.Error(t, err)
}

func TestApp_Config(t *testing.T) {
	a := newTestApp(t)

	out := a.mustRun("config", "show")
	cfg := decode[config.Config](t, out)
	assert.Equal(t, config.Default().Seed, cfg.Seed)

	dir := t.TempDir()
	a.mustRun("config", "init", "--dir", dir)
	_, err := os.Stat(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	_, err = a.run("", "config", "init", "--dir", dir)
	assert.Error(t, err)
	a.mustRun("config", "init", "--dir", dir, "--force")

	custom := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(custom, []byte("seed = 7\n[composite]\nalpha = 0.6\n"), 0o600))
	out = a.mustRun("--config", custom, "config", "show")
	cfg = decode[config.Config](t, out)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 0.6, cfg.Composite.Alpha)

	t.Setenv(config.EnvSeed, "99")
	out = a.mustRun("config", "show")
	cfg = decode[config.Config](t, out)
	assert.Equal(t, uint64(99), cfg.Seed)
}

func TestApp_YAMLOutput(t *testing.T) {
	a := newTestApp(t)
	out := a.mustRun("--format", "yaml", "query", "state")
	assert.Contains(t, out, "snapshot: 0")
}

func TestApp_Reset(t *testing.T) {
	a := newTestApp(t)
	a.mustRun("import", "--matchups", "testdata/matchups.csv")

	out, err := a.run("n\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")
	state := decode[map[string]int64](t, a.mustRun("query", "state"))
	assert.Equal(t, int64(1), state["snapshot"])

	out, err = a.run("y\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Reset complete.")
	state = decode[map[string]int64](t, a.mustRun("query", "state"))
	assert.Equal(t, int64(0), state["snapshot"])

	a.mustRun("import", "--matchups", "testdata/matchups.csv")
	a.mustRun("reset", "--yes")
	state = decode[map[string]int64](t, a.mustRun("query", "state"))
	assert.Equal(t, int64(0), state["snapshot"])
}

func TestApp_ImportArchive(t *testing.T) {
	a := newTestApp(t)

	b, err := os.ReadFile("testdata/matchups.csv")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(b)
	}))
	defer srv.Close()

	dir := filepath.Join(a.home, "archive")
	out := a.mustRun("import", "--matchups", srv.URL+"/matchups.csv", "--archive", dir)
	imp := decode[importResult](t, out)
	assert.Equal(t, 5, imp.Decks)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0].Name(), "-matchups.csv"))
}
