package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mchmarny/metarank/pkg/matrix"
)

var (
	deckAColumns = []string{"Deck A", "DeckA", "Deck", "Player Deck"}
	deckBColumns = []string{"Deck B", "DeckB", "Opponent", "Opponent Deck"}
	winColumns   = []string{"W", "Wins", "Win"}
	lossColumns  = []string{"L", "Losses", "Loss"}
	tieColumns   = []string{"T", "Ties", "Tie", "Draws", "D"}
	totalColumns = []string{"N", "Games", "Matches"}
)

// ReadMatchups reads the flat directional table with columns Deck A, Deck B,
// W, L and optional T and N. Empty counts read as zero. When N is present
// and disagrees with W + L the row is kept and the mismatch logged.
func ReadMatchups(r io.Reader) ([]matrix.Record, error) {
	reader := newReader(r)
	h, _, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	colA, okA := h.find(deckAColumns...)
	colB, okB := h.find(deckBColumns...)
	colW, okW := h.find(winColumns...)
	colL, okL := h.find(lossColumns...)
	if !okA || !okB || !okW || !okL {
		return nil, fmt.Errorf("%w: need Deck A, Deck B, W and L", ErrMissingColumn)
	}
	colT, _ := h.find(tieColumns...)
	colN, hasN := h.find(totalColumns...)

	var (
		rows     []matrix.Record
		line     = 1
		mismatch int
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}

		a, b := field(row, colA), field(row, colB)
		if a == "" || b == "" {
			slog.Debug("skipping row without deck names", "line", line)
			continue
		}

		rec := matrix.Record{DeckA: a, DeckB: b}
		for _, c := range []struct {
			col  int
			name string
			dst  *float64
		}{
			{colW, "W", &rec.W},
			{colL, "L", &rec.L},
			{colT, "T", &rec.T},
		} {
			v, _, err := parseNumber(field(row, c.col))
			if err != nil {
				return nil, &RowError{Line: line, Column: c.name, Err: err}
			}
			*c.dst = v
		}

		if hasN {
			n, ok, err := parseNumber(field(row, colN))
			if err != nil {
				return nil, &RowError{Line: line, Column: "N", Err: err}
			}
			if ok && n != rec.W+rec.L {
				mismatch++
			}
		}

		rows = append(rows, rec)
	}

	if mismatch > 0 {
		slog.Warn("N differs from W + L, using W and L", "rows", mismatch)
	}

	return rows, nil
}

// AxisFromMatchups returns the decks named in rows in first-seen order.
func AxisFromMatchups(rows []matrix.Record) []string {
	seen := make(map[string]bool)
	var axis []string
	for _, r := range rows {
		for _, d := range []string{r.DeckA, r.DeckB} {
			if !seen[d] {
				seen[d] = true
				axis = append(axis, d)
			}
		}
	}
	return axis
}
