package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mchmarny/metarank/pkg/meta"
)

var (
	shareDeckColumns = []string{"Deck", "Deck Name", "DeckName", "Name", "Archetype", "Alias"}

	// shareColumns in order of preference; values may be fractions or
	// percentages, the blender tells them apart.
	shareColumns = []string{"Share_frac", "Share_%", "Usage_%", "Share", "Usage", "Meta_%", "Meta"}
)

// ReadMetaShares reads the declared meta-share table. The deck column and
// the share column are picked by name; when no share column is named the
// first column holding only numbers is used.
func ReadMetaShares(r io.Reader) ([]meta.Share, error) {
	reader := newReader(r)
	h, cols, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	colDeck, ok := h.find(shareDeckColumns...)
	if !ok {
		return nil, fmt.Errorf("%w: need a deck column", ErrMissingColumn)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read meta shares: %w", err)
	}

	colShare, ok := h.find(shareColumns...)
	if !ok {
		colShare = firstNumericColumn(cols, records, colDeck)
	}
	if colShare < 0 {
		return nil, fmt.Errorf("%w: need a share column", ErrMissingColumn)
	}

	list := make([]meta.Share, 0, len(records))
	for n, row := range records {
		deck := field(row, colDeck)
		if deck == "" {
			continue
		}
		v, _, err := parseNumber(field(row, colShare))
		if err != nil {
			return nil, &RowError{Line: n + 2, Column: cols[colShare], Err: err}
		}
		list = append(list, meta.Share{Deck: deck, Share: v})
	}

	return list, nil
}

// DecodeMetaShares reads a JSON array of {"deck", "share"} objects.
func DecodeMetaShares(r io.Reader) ([]meta.Share, error) {
	var list []meta.Share
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode meta shares: %w", err)
	}
	return validShares(list)
}

func validShares(list []meta.Share) ([]meta.Share, error) {
	out := list[:0]
	for _, s := range list {
		s.Deck = strings.TrimSpace(s.Deck)
		if s.Deck == "" {
			continue
		}
		if s.Share < 0 {
			return nil, errors.New("negative meta share for " + s.Deck)
		}
		out = append(out, s)
	}
	return out, nil
}

func firstNumericColumn(cols []string, records [][]string, skip int) int {
	for c := range cols {
		if c == skip {
			continue
		}
		numeric, seen := true, false
		for _, row := range records {
			_, ok, err := parseNumber(field(row, c))
			if err != nil {
				numeric = false
				break
			}
			seen = seen || ok
		}
		if numeric && seen {
			return c
		}
	}
	return -1
}
