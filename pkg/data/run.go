package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/engine"
	"github.com/mchmarny/metarank/pkg/matrix"
)

const (
	insertRunSQL = `INSERT INTO run (
			id, snapshot_id, created_at, seed, k_used, k_reason, duration_ms,
			config, diagnostics, coverage, missing_pairs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	insertRankingSQL = `INSERT INTO ranking (
			run_id, rank, deck, score, mas, lb, bt, se, n_eff, opp_used, opp_total, coverage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectRunSQL = `SELECT
			id, snapshot_id, created_at, seed, duration_ms,
			config, diagnostics, coverage, missing_pairs
		FROM run
		WHERE id = ?
	`

	selectRankingSQL = `SELECT
			rank, deck, score, mas, lb, bt, se, n_eff, opp_used, opp_total, coverage
		FROM ranking
		WHERE run_id = ?
		ORDER BY rank
	`

	selectLatestRunSQL = `SELECT id FROM run ORDER BY created_at DESC, id DESC LIMIT 1`

	selectRunsSQL = `SELECT
			r.id,
			r.snapshot_id,
			r.created_at,
			r.k_used,
			r.k_reason,
			r.duration_ms,
			COALESCE((SELECT k.deck FROM ranking k WHERE k.run_id = r.id AND k.rank = 1), ''),
			(SELECT COUNT(*) FROM ranking k WHERE k.run_id = r.id)
		FROM run r
		WHERE (? = '' OR r.snapshot_id = ?)
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?
	`
)

// Run is one stored engine run.
type Run struct {
	ID         string         `json:"id" yaml:"id"`
	SnapshotID string         `json:"snapshot_id,omitempty" yaml:"snapshotId,omitempty"`
	CreatedAt  time.Time      `json:"created_at" yaml:"createdAt"`
	Duration   time.Duration  `json:"duration" yaml:"duration"`
	Config     *config.Config `json:"config" yaml:"config"`
	Result     *engine.Result `json:"result" yaml:"result"`
}

// RunSummary is a listing row for a stored run.
type RunSummary struct {
	ID         string    `json:"id" yaml:"id"`
	SnapshotID string    `json:"snapshot_id,omitempty" yaml:"snapshotId,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"createdAt"`
	KUsed      float64   `json:"k_used" yaml:"kUsed"`
	KReason    string    `json:"k_reason" yaml:"kReason"`
	DurationMS int64     `json:"duration_ms" yaml:"durationMs"`
	Top        string    `json:"top,omitempty" yaml:"top,omitempty"`
	Decks      int       `json:"decks" yaml:"decks"`
}

// SaveRun stores r and its ranking in one transaction. ID and CreatedAt are
// assigned when empty.
func SaveRun(ctx context.Context, db *sql.DB, r *Run) error {
	if db == nil {
		return errDBNotInitialized
	}
	if r == nil || r.Result == nil || r.Config == nil {
		return errors.New("run with config and result required")
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}
	diag, err := json.Marshal(r.Result.Diagnostics)
	if err != nil {
		return fmt.Errorf("failed to marshal run diagnostics: %w", err)
	}
	cov, err := json.Marshal(r.Result.Coverage)
	if err != nil {
		return fmt.Errorf("failed to marshal run coverage: %w", err)
	}
	missing, err := json.Marshal(r.Result.MissingPairs)
	if err != nil {
		return fmt.Errorf("failed to marshal missing pairs: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin run transaction: %w", err)
	}

	k := r.Result.Diagnostics.K
	if _, err := tx.ExecContext(ctx, insertRunSQL,
		r.ID, r.SnapshotID, formatTime(r.CreatedAt), int64(r.Config.Seed), k.KUsed, k.Reason,
		r.Duration.Milliseconds(), string(cfg), string(diag), string(cov), string(missing)); err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("failed to insert run %s: %w", r.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertRankingSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("failed to prepare ranking insert statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range r.Result.Ranking {
		if _, err := stmt.ExecContext(ctx, r.ID, rec.Rank, rec.Deck, rec.Score,
			nullable(rec.MAS), nullable(rec.LB), rec.BT, nullable(rec.SE),
			rec.NEff, rec.OppUsed, rec.OppTotal, rec.Coverage); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("failed to insert ranking for %s: %w", rec.Deck, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", r.ID, err)
	}

	slog.Debug("run saved", "id", r.ID, "snapshot", r.SnapshotID, "decks", len(r.Result.Ranking))
	return nil
}

// GetRun loads the run with the given id.
func GetRun(ctx context.Context, db *sql.DB, id string) (*Run, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	var (
		created                     string
		seed                        int64
		durationMS                  int64
		cfg, diag, cov, missingJSON string
	)
	r := &Run{}
	err := db.QueryRowContext(ctx, selectRunSQL, id).Scan(
		&r.ID, &r.SnapshotID, &created, &seed, &durationMS, &cfg, &diag, &cov, &missingJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select run %s: %w", id, err)
	}
	r.CreatedAt = parseTime(created)
	r.Duration = time.Duration(durationMS) * time.Millisecond

	r.Config = &config.Config{}
	if err := json.Unmarshal([]byte(cfg), r.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config of run %s: %w", id, err)
	}
	r.Config.Seed = uint64(seed)

	r.Result = &engine.Result{}
	if err := json.Unmarshal([]byte(diag), &r.Result.Diagnostics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal diagnostics of run %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(cov), &r.Result.Coverage); err != nil {
		return nil, fmt.Errorf("failed to unmarshal coverage of run %s: %w", id, err)
	}
	var missing []matrix.Pair
	if err := json.Unmarshal([]byte(missingJSON), &missing); err != nil {
		return nil, fmt.Errorf("failed to unmarshal missing pairs of run %s: %w", id, err)
	}
	r.Result.MissingPairs = missing

	if r.Result.Ranking, err = queryRanking(ctx, db, id); err != nil {
		return nil, err
	}

	return r, nil
}

// GetLatestRun loads the most recent run.
func GetLatestRun(ctx context.Context, db *sql.DB) (*Run, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	var id string
	err := db.QueryRowContext(ctx, selectLatestRunSQL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select latest run: %w", err)
	}
	return GetRun(ctx, db, id)
}

// ListRuns returns up to limit runs, newest first. A non-empty snapshotID
// restricts the list to runs over that snapshot.
func ListRuns(ctx context.Context, db *sql.DB, snapshotID string, limit int) ([]*RunSummary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.QueryContext(ctx, selectRunsSQL, snapshotID, snapshotID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select runs: %w", err)
	}
	defer rows.Close()

	list := make([]*RunSummary, 0)
	for rows.Next() {
		s := &RunSummary{}
		var created string
		if err := rows.Scan(&s.ID, &s.SnapshotID, &created, &s.KUsed, &s.KReason, &s.DurationMS, &s.Top, &s.Decks); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		s.CreatedAt = parseTime(created)
		list = append(list, s)
	}

	return list, rows.Err()
}

func queryRanking(ctx context.Context, db *sql.DB, runID string) ([]engine.Record, error) {
	rows, err := db.QueryContext(ctx, selectRankingSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to select ranking of run %s: %w", runID, err)
	}
	defer rows.Close()

	list := make([]engine.Record, 0)
	for rows.Next() {
		var (
			rec         engine.Record
			mas, lb, se sql.NullFloat64
		)
		if err := rows.Scan(&rec.Rank, &rec.Deck, &rec.Score, &mas, &lb, &rec.BT, &se,
			&rec.NEff, &rec.OppUsed, &rec.OppTotal, &rec.Coverage); err != nil {
			return nil, fmt.Errorf("failed to scan ranking row: %w", err)
		}
		rec.MAS = fromNullable(mas)
		rec.LB = fromNullable(lb)
		rec.SE = fromNullable(se)
		list = append(list, rec)
	}
	return list, rows.Err()
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
