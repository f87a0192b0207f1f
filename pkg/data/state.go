package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var stateQueries = map[string]string{
	"snapshot":   "SELECT COUNT(*) FROM snapshot",
	"deck":       "SELECT COUNT(DISTINCT deck) FROM snapshot_deck",
	"matchup":    "SELECT COUNT(*) FROM matchup",
	"meta_share": "SELECT COUNT(*) FROM meta_share",
	"run":        "SELECT COUNT(*) FROM run",
	"ranking":    "SELECT COUNT(*) FROM ranking",
}

// GetDataState returns the row counts of the store.
func GetDataState(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	state := make(map[string]int64, len(stateQueries))
	for k, q := range stateQueries {
		count, err := getCount(ctx, db, q)
		if err != nil {
			return nil, fmt.Errorf("error getting %s count: %w", k, err)
		}
		state[k] = count
	}

	return state, nil
}

func getCount(ctx context.Context, db *sql.DB, query string) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, query).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to scan row: %w", err)
	}
	return count, nil
}
