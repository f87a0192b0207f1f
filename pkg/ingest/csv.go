package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RowError reports a malformed value in an input table.
type RowError struct {
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d, column %q: %v", e.Line, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ErrMissingColumn is returned when a required column is not in the header.
var ErrMissingColumn = errors.New("missing required column")

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	return reader
}

// header maps normalized column names to their index.
type header map[string]int

func readHeader(reader *csv.Reader) (header, []string, error) {
	cols, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("empty input")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(cols) > 0 {
		cols[0] = strings.TrimPrefix(cols[0], "\ufeff")
	}

	h := make(header, len(cols))
	for i, c := range cols {
		key := normalize(c)
		if _, ok := h[key]; !ok {
			h[key] = i
		}
	}
	return h, cols, nil
}

// find returns the index of the first candidate present in the header.
func (h header) find(candidates ...string) (int, bool) {
	for _, c := range candidates {
		if i, ok := h[normalize(c)]; ok {
			return i, true
		}
	}
	return -1, false
}

// normalize lowercases s and drops spaces, dashes and underscores so that
// "Deck A", "deck_a" and "DeckA" all match.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseNumber parses v, accepting a trailing percent sign and a decimal
// comma. ok is false for an empty value.
func parseNumber(v string) (float64, bool, error) {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
	if v == "" || strings.EqualFold(v, "nan") || strings.EqualFold(v, "na") {
		return 0, false, nil
	}
	if !strings.Contains(v, ".") {
		v = strings.Replace(v, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, err
	}
	return f, true, nil
}
