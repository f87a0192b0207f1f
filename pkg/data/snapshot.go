package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/metarank/pkg/engine"
	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/mchmarny/metarank/pkg/meta"
)

const (
	insertSnapshotSQL = `INSERT INTO snapshot (id, name, source, created_at) VALUES (?, ?, ?, ?)`

	insertSnapshotDeckSQL = `INSERT INTO snapshot_deck (snapshot_id, position, deck) VALUES (?, ?, ?)`

	insertMatchupSQL = `INSERT INTO matchup (snapshot_id, deck_a, deck_b, wins, losses, ties)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(snapshot_id, deck_a, deck_b) DO UPDATE SET
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			ties = ties + excluded.ties
	`

	insertMetaShareSQL = `INSERT INTO meta_share (snapshot_id, deck, share) VALUES (?, ?, ?)
		ON CONFLICT(snapshot_id, deck) DO UPDATE SET share = share + excluded.share
	`

	selectSnapshotSQL = `SELECT id, name, source, created_at FROM snapshot WHERE id = ?`

	selectSnapshotDecksSQL = `SELECT deck FROM snapshot_deck WHERE snapshot_id = ? ORDER BY position`

	selectMatchupsSQL = `SELECT deck_a, deck_b, wins, losses, ties
		FROM matchup
		WHERE snapshot_id = ?
		ORDER BY deck_a, deck_b
	`

	selectMetaSharesSQL = `SELECT deck, share FROM meta_share WHERE snapshot_id = ? ORDER BY deck`

	selectLatestSnapshotSQL = `SELECT id FROM snapshot ORDER BY created_at DESC, id DESC LIMIT 1`

	selectSnapshotsSQL = `SELECT
			s.id,
			s.name,
			s.source,
			s.created_at,
			(SELECT COUNT(*) FROM snapshot_deck d WHERE d.snapshot_id = s.id),
			(SELECT COUNT(*) FROM matchup m WHERE m.snapshot_id = s.id)
		FROM snapshot s
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT ?
	`
)

// ErrNotFound is returned when the requested snapshot or run does not exist.
var ErrNotFound = errors.New("not found")

// Snapshot is one stored set of match data on a fixed deck axis.
type Snapshot struct {
	ID         string          `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	Source     string          `json:"source,omitempty" yaml:"source,omitempty"`
	CreatedAt  time.Time       `json:"created_at" yaml:"createdAt"`
	Axis       []string        `json:"axis" yaml:"axis"`
	Matchups   []matrix.Record `json:"matchups" yaml:"matchups"`
	MetaShares []meta.Share    `json:"meta_shares,omitempty" yaml:"metaShares,omitempty"`
}

// Input converts the snapshot into engine input.
func (s *Snapshot) Input() engine.Input {
	return engine.Input{
		Axis:       s.Axis,
		Flat:       s.Matchups,
		MetaShares: s.MetaShares,
	}
}

// SnapshotSummary is a listing row for a stored snapshot.
type SnapshotSummary struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"createdAt"`
	Decks     int       `json:"decks" yaml:"decks"`
	Matchups  int       `json:"matchups" yaml:"matchups"`
}

// SaveSnapshot stores s in one transaction. ID and CreatedAt are assigned
// when empty; rows naming decks off the axis are skipped.
func SaveSnapshot(ctx context.Context, db *sql.DB, s *Snapshot) error {
	if db == nil {
		return errDBNotInitialized
	}
	if s == nil || len(s.Axis) == 0 {
		return errors.New("snapshot with a deck axis required")
	}
	if _, err := matrix.New(s.Axis); err != nil {
		return fmt.Errorf("invalid snapshot axis: %w", err)
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	onAxis := make(map[string]bool, len(s.Axis))
	for _, d := range s.Axis {
		onAxis[d] = true
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, insertSnapshotSQL, s.ID, s.Name, s.Source, formatTime(s.CreatedAt)); err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("failed to insert snapshot %s: %w", s.ID, err)
	}

	deckStmt, err := tx.PrepareContext(ctx, insertSnapshotDeckSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("failed to prepare deck insert statement: %w", err)
	}
	defer deckStmt.Close()

	for i, d := range s.Axis {
		if _, err := deckStmt.ExecContext(ctx, s.ID, i, d); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("failed to insert deck %s: %w", d, err)
		}
	}

	matchStmt, err := tx.PrepareContext(ctx, insertMatchupSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("failed to prepare matchup insert statement: %w", err)
	}
	defer matchStmt.Close()

	var skipped int
	for _, r := range s.Matchups {
		if !onAxis[r.DeckA] || !onAxis[r.DeckB] || r.DeckA == r.DeckB {
			skipped++
			continue
		}
		if _, err := matchStmt.ExecContext(ctx, s.ID, r.DeckA, r.DeckB, r.W, r.L, r.T); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("failed to insert matchup %s vs %s: %w", r.DeckA, r.DeckB, err)
		}
	}

	shareStmt, err := tx.PrepareContext(ctx, insertMetaShareSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("failed to prepare meta share insert statement: %w", err)
	}
	defer shareStmt.Close()

	for _, m := range s.MetaShares {
		if _, err := shareStmt.ExecContext(ctx, s.ID, m.Deck, m.Share); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("failed to insert meta share for %s: %w", m.Deck, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot %s: %w", s.ID, err)
	}

	slog.Debug("snapshot saved",
		"id", s.ID,
		"decks", len(s.Axis),
		"matchups", len(s.Matchups)-skipped,
		"skipped", skipped,
		"meta_shares", len(s.MetaShares))

	return nil
}

// GetSnapshot loads the snapshot with the given id.
func GetSnapshot(ctx context.Context, db *sql.DB, id string) (*Snapshot, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	s := &Snapshot{}
	var created string
	err := db.QueryRowContext(ctx, selectSnapshotSQL, id).Scan(&s.ID, &s.Name, &s.Source, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select snapshot %s: %w", id, err)
	}
	s.CreatedAt = parseTime(created)

	if s.Axis, err = querySnapshotDecks(ctx, db, id); err != nil {
		return nil, err
	}
	if s.Matchups, err = querySnapshotMatchups(ctx, db, id); err != nil {
		return nil, err
	}
	if s.MetaShares, err = querySnapshotShares(ctx, db, id); err != nil {
		return nil, err
	}

	return s, nil
}

// GetLatestSnapshotID returns the id of the most recently created snapshot.
func GetLatestSnapshotID(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errDBNotInitialized
	}

	var id string
	err := db.QueryRowContext(ctx, selectLatestSnapshotSQL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("latest snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to select latest snapshot: %w", err)
	}
	return id, nil
}

// ListSnapshots returns up to limit snapshots, newest first.
func ListSnapshots(ctx context.Context, db *sql.DB, limit int) ([]*SnapshotSummary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.QueryContext(ctx, selectSnapshotsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select snapshots: %w", err)
	}
	defer rows.Close()

	list := make([]*SnapshotSummary, 0)
	for rows.Next() {
		s := &SnapshotSummary{}
		var created string
		if err := rows.Scan(&s.ID, &s.Name, &s.Source, &created, &s.Decks, &s.Matchups); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		s.CreatedAt = parseTime(created)
		list = append(list, s)
	}

	return list, rows.Err()
}

func querySnapshotDecks(ctx context.Context, db *sql.DB, id string) ([]string, error) {
	rows, err := db.QueryContext(ctx, selectSnapshotDecksSQL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select decks for snapshot %s: %w", id, err)
	}
	defer rows.Close()

	var axis []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		axis = append(axis, d)
	}
	return axis, rows.Err()
}

func querySnapshotMatchups(ctx context.Context, db *sql.DB, id string) ([]matrix.Record, error) {
	rows, err := db.QueryContext(ctx, selectMatchupsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select matchups for snapshot %s: %w", id, err)
	}
	defer rows.Close()

	var list []matrix.Record
	for rows.Next() {
		var r matrix.Record
		if err := rows.Scan(&r.DeckA, &r.DeckB, &r.W, &r.L, &r.T); err != nil {
			return nil, fmt.Errorf("failed to scan matchup row: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func querySnapshotShares(ctx context.Context, db *sql.DB, id string) ([]meta.Share, error) {
	rows, err := db.QueryContext(ctx, selectMetaSharesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select meta shares for snapshot %s: %w", id, err)
	}
	defer rows.Close()

	var list []meta.Share
	for rows.Next() {
		var m meta.Share
		if err := rows.Scan(&m.Deck, &m.Share); err != nil {
			return nil, fmt.Errorf("failed to scan meta share row: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
