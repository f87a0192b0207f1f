package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mchmarny/metarank/pkg/matrix"
)

// ReadMatrix reads a square table whose header row and first column both
// list the decks in the same order. Empty cells stay unobserved.
func ReadMatrix(r io.Reader) (*matrix.Matrix, error) {
	reader := newReader(r)
	_, cols, err := readHeader(reader)
	if err != nil {
		return nil, err
	}
	if len(cols) < 2 {
		return nil, errors.New("matrix needs a label column and at least one deck")
	}

	axis := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		axis = append(axis, strings.TrimSpace(c))
	}
	m, err := matrix.New(axis)
	if err != nil {
		return nil, fmt.Errorf("invalid matrix header: %w", err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix: %w", err)
	}
	if len(records) != len(axis) {
		return nil, &matrix.AlignmentError{Issues: []string{
			fmt.Sprintf("matrix has %d rows for %d columns", len(records), len(axis)),
		}}
	}

	for i, row := range records {
		if name := field(row, 0); name != axis[i] {
			return nil, &matrix.AlignmentError{Issues: []string{
				fmt.Sprintf("row %d is %q, column %d is %q", i+1, name, i+1, axis[i]),
			}}
		}
		for j := range axis {
			if i == j {
				continue
			}
			v, ok, err := parseNumber(field(row, j+1))
			if err != nil {
				return nil, &RowError{Line: i + 2, Column: axis[j], Err: err}
			}
			if ok {
				m.Set(i, j, v)
			}
		}
	}

	return m, nil
}
