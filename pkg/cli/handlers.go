package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mchmarny/metarank/pkg/bt"
	"github.com/mchmarny/metarank/pkg/config"
	"github.com/mchmarny/metarank/pkg/data"
	"github.com/mchmarny/metarank/pkg/engine"
	"github.com/mchmarny/metarank/pkg/kselect"
	"github.com/mchmarny/metarank/pkg/matrix"
	"github.com/mchmarny/metarank/pkg/meta"
)

const (
	listLimitDefault = 50
	listLimitMax     = 1000
	rankBodyMaxBytes = 16 << 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryParamInt(r *http.Request, key string, def, limit int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		slog.Debug("error converting query string to int", "value", v, "error", err)
		return def
	}

	if i < 1 || i > limit {
		return def
	}

	return i
}

func snapshotsAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryParamInt(r, "limit", listLimitDefault, listLimitMax)
		list, err := data.ListSnapshots(r.Context(), db, limit)
		if err != nil {
			slog.Error("failed to list snapshots", "error", err)
			writeError(w, http.StatusInternalServerError, "error listing snapshots")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func snapshotAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := data.GetSnapshot(r.Context(), db, r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err, "error getting snapshot")
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func runsAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryParamInt(r, "limit", listLimitDefault, listLimitMax)
		list, err := data.ListRuns(r.Context(), db, r.URL.Query().Get("snapshot"), limit)
		if err != nil {
			slog.Error("failed to list runs", "error", err)
			writeError(w, http.StatusInternalServerError, "error listing runs")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func latestRunAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := data.GetLatestRun(r.Context(), db)
		if err != nil {
			writeStoreError(w, err, "error getting latest run")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func runAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := data.GetRun(r.Context(), db, r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err, "error getting run")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// RankRequest is the body of POST /data/rank. Either SnapshotID or Matchups
// must be set; Config holds overrides applied on top of the server config.
type RankRequest struct {
	SnapshotID string          `json:"snapshot_id,omitempty"`
	Axis       []string        `json:"axis,omitempty"`
	Matchups   []matrix.Record `json:"matchups,omitempty"`
	MetaShares []meta.Share    `json:"meta_shares,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
	Save       bool            `json:"save,omitempty"`
	Full       bool            `json:"full,omitempty"`
}

func rankAPIHandler(db *sql.DB, base *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RankRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, rankBodyMaxBytes)).Decode(&req); err != nil {
			slog.Debug("error binding json", "error", err)
			writeError(w, http.StatusBadRequest, "error binding json")
			return
		}

		cfg := *base
		if len(req.Config) > 0 {
			if err := json.Unmarshal(req.Config, &cfg); err != nil {
				writeError(w, http.StatusBadRequest, "invalid config overrides")
				return
			}
		}

		in := engine.Input{Axis: req.Axis, Flat: req.Matchups, MetaShares: req.MetaShares}
		snapshotID := ""
		if req.SnapshotID != "" {
			snap, err := data.GetSnapshot(r.Context(), db, req.SnapshotID)
			if err != nil {
				writeStoreError(w, err, "error getting snapshot")
				return
			}
			in, snapshotID = snap.Input(), snap.ID
		}
		if len(in.Axis) == 0 && len(in.Flat) > 0 {
			writeError(w, http.StatusBadRequest, "axis required with matchups")
			return
		}
		if req.Save && snapshotID == "" {
			writeError(w, http.StatusBadRequest, "save requires snapshot_id")
			return
		}

		run, err := execute(r.Context(), db, snapshotID, in, &cfg, req.Save)
		if err != nil {
			writeJSON(w, rankErrorStatus(err), map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, newRankOutput(run, req.Full))
	}
}

func rankErrorStatus(err error) int {
	var (
		ae  *matrix.AlignmentError
		nde *bt.NumericDegeneracyError
	)
	switch {
	case errors.Is(err, engine.ErrNoInput),
		errors.Is(err, engine.ErrInvalidConfig),
		errors.Is(err, matrix.ErrInvalidAxis),
		errors.Is(err, matrix.ErrInvalidCounts),
		errors.As(err, &ae):
		return http.StatusBadRequest
	case errors.Is(err, kselect.ErrNoData), errors.As(err, &nde):
		return http.StatusUnprocessableEntity
	default:
		slog.Error("rank request failed", "error", err)
		return http.StatusInternalServerError
	}
}

func writeStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, data.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			slog.Error("store unavailable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	}
}
