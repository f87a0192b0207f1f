package data

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	err := Init(dbPath)
	require.NoError(t, err)
	db, err := GetDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInit_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nested", "test.db")
	err := Init(dbPath)
	require.NoError(t, err)
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestInit_EmptyPath(t *testing.T) {
	err := Init("")
	assert.Error(t, err)
}

func TestInit_RunsMigrations(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	require.NoError(t, Init(dbPath))
	db, err := GetDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var version int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	assert.NoError(t, err)
	assert.Equal(t, 1, version)

	for _, table := range []string{"snapshot", "snapshot_deck", "matchup", "meta_share", "run", "ranking"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestInit_Idempotent(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	require.NoError(t, Init(dbPath))
	assert.NoError(t, Init(dbPath))
}

func TestMigrationManager_Down(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	require.NoError(t, Init(dbPath))

	mm, err := NewMigrationManager(dbPath)
	require.NoError(t, err)
	defer mm.Close()

	v, dirty, err := mm.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	require.NoError(t, mm.Down())
	v, _, err = mm.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
}

func TestStore_NilDB(t *testing.T) {
	ctx := t.Context()

	_, err := GetDataState(ctx, nil)
	assert.ErrorIs(t, err, errDBNotInitialized)
	assert.ErrorIs(t, SaveSnapshot(ctx, nil, &Snapshot{}), errDBNotInitialized)
	_, err = GetSnapshot(ctx, nil, "x")
	assert.ErrorIs(t, err, errDBNotInitialized)
	_, err = ListRuns(ctx, nil, "", 10)
	assert.ErrorIs(t, err, errDBNotInitialized)
	assert.ErrorIs(t, SaveRun(ctx, nil, &Run{}), errDBNotInitialized)
}

func TestGetDataState(t *testing.T) {
	db := setupTestDB(t)
	ctx := t.Context()

	state, err := GetDataState(ctx, db)
	require.NoError(t, err)
	assert.Len(t, state, len(stateQueries))
	for k, v := range state {
		assert.Zero(t, v, k)
	}

	require.NoError(t, SaveSnapshot(ctx, db, testSnapshot()))
	state, err = GetDataState(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state["snapshot"])
	assert.Equal(t, int64(4), state["deck"])
	assert.Equal(t, int64(5), state["matchup"])
	assert.Equal(t, int64(2), state["meta_share"])
}
