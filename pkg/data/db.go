package data

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	DataFileName string = "data.db"

	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
	dsnPragmas = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
)

var errDBNotInitialized = errors.New("database not initialized")

// Init creates the database file when needed and applies pending schema
// migrations.
func Init(dbFilePath string) error {
	if dbFilePath == "" {
		return errors.New("dbFilePath not specified")
	}

	abs, err := filepath.Abs(dbFilePath)
	if err != nil {
		return fmt.Errorf("error resolving database path %s: %w", dbFilePath, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return fmt.Errorf("error creating database directory for %s: %w", abs, err)
	}

	mm, err := NewMigrationManager(abs)
	if err != nil {
		return fmt.Errorf("error opening database %s: %w", abs, err)
	}
	defer func() {
		if err := mm.Close(); err != nil {
			slog.Debug("error closing migration manager", "error", err)
		}
	}()

	if err := mm.Up(); err != nil {
		return err
	}

	v, dirty, err := mm.Version()
	if err != nil {
		return err
	}
	slog.Debug("db schema ready", "path", abs, "version", v, "dirty", dirty)

	return nil
}

// GetDB opens the database at path.
func GetDB(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return conn, nil
}

func rollbackTransaction(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Error("error rolling back transaction", "error", err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		slog.Debug("invalid stored time", "value", s, "error", err)
		return time.Time{}
	}
	return t
}
