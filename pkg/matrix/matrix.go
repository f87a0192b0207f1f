package matrix

import (
	"errors"
	"fmt"
	"strings"
)

// Cell is one matrix entry with an explicit presence marker. Invalid cells
// never take part in sums.
type Cell struct {
	Value float64 `json:"value" yaml:"value"`
	Valid bool    `json:"valid" yaml:"valid"`
}

// Matrix is a square, deck-indexed matrix whose diagonal is always invalid.
type Matrix struct {
	axis  []string
	index map[string]int
	cells []Cell
}

// AlignmentError is returned when two inputs do not share an identical deck
// axis (same decks, same order).
type AlignmentError struct {
	Issues []string
}

func (e *AlignmentError) Error() string {
	return "input alignment: " + strings.Join(e.Issues, "; ")
}

var (
	// ErrInvalidAxis is returned for an empty axis, an unnamed deck or a
	// duplicate deck.
	ErrInvalidAxis = errors.New("invalid deck axis")

	// ErrInvalidCounts is returned when match data holds a negative or
	// non-finite count, or a win rate outside [0,100].
	ErrInvalidCounts = errors.New("invalid match counts")
)

// CountError names the ordered deck pair and the value that made the match
// data unusable. It matches ErrInvalidCounts.
type CountError struct {
	DeckA string
	DeckB string
	Field string
	Value float64
}

func (e *CountError) Error() string {
	return fmt.Sprintf("%s for %s vs %s: %s=%g", ErrInvalidCounts, e.DeckA, e.DeckB, e.Field, e.Value)
}

func (e *CountError) Unwrap() error {
	return ErrInvalidCounts
}

// New creates an all-invalid matrix over axis.
func New(axis []string) (*Matrix, error) {
	if len(axis) == 0 {
		return nil, fmt.Errorf("%w: no decks", ErrInvalidAxis)
	}

	idx := make(map[string]int, len(axis))
	for i, d := range axis {
		if d == "" {
			return nil, fmt.Errorf("%w: deck at position %d has no name", ErrInvalidAxis, i)
		}
		if _, dup := idx[d]; dup {
			return nil, fmt.Errorf("%w: duplicate deck %s", ErrInvalidAxis, d)
		}
		idx[d] = i
	}

	a := make([]string, len(axis))
	copy(a, axis)

	return &Matrix{
		axis:  a,
		index: idx,
		cells: make([]Cell, len(axis)*len(axis)),
	}, nil
}

// Axis returns a copy of the deck axis.
func (m *Matrix) Axis() []string {
	a := make([]string, len(m.axis))
	copy(a, m.axis)
	return a
}

// Size is the roster size T.
func (m *Matrix) Size() int {
	return len(m.axis)
}

// Index returns the axis position of deck.
func (m *Matrix) Index(deck string) (int, bool) {
	i, ok := m.index[deck]
	return i, ok
}

// At returns cell (i, j).
func (m *Matrix) At(i, j int) Cell {
	return m.cells[i*len(m.axis)+j]
}

// Set stores v at (i, j) and marks it valid. Writes to the diagonal are
// ignored since mirror pairs are never populated.
func (m *Matrix) Set(i, j int, v float64) {
	if i == j {
		return
	}
	m.cells[i*len(m.axis)+j] = Cell{Value: v, Valid: true}
}

// Add accumulates v into (i, j), validating the cell.
func (m *Matrix) Add(i, j int, v float64) {
	if i == j {
		return
	}
	c := m.At(i, j)
	m.Set(i, j, c.Value+v)
}

// Clear marks (i, j) invalid.
func (m *Matrix) Clear(i, j int) {
	m.cells[i*len(m.axis)+j] = Cell{}
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{
		axis:  m.Axis(),
		index: make(map[string]int, len(m.index)),
		cells: make([]Cell, len(m.cells)),
	}
	for k, v := range m.index {
		c.index[k] = v
	}
	copy(c.cells, m.cells)
	return c
}

// SameAxis reports whether a and b share an identical axis.
func SameAxis(a, b *Matrix) bool {
	if a == nil || b == nil || a.Size() != b.Size() {
		return false
	}
	for i := range a.axis {
		if a.axis[i] != b.axis[i] {
			return false
		}
	}
	return true
}

// CheckAlignment returns an *AlignmentError when a and b differ in axis.
func CheckAlignment(a, b *Matrix) error {
	if a == nil || b == nil {
		return &AlignmentError{Issues: []string{"missing matrix"}}
	}

	var issues []string
	if a.Size() != b.Size() {
		issues = append(issues, fmt.Sprintf("shape mismatch: %d vs %d", a.Size(), b.Size()))
	} else {
		for i := range a.axis {
			if a.axis[i] != b.axis[i] {
				issues = append(issues, fmt.Sprintf("axis mismatch at %d: %q vs %q", i, a.axis[i], b.axis[i]))
				break
			}
		}
	}

	if len(issues) > 0 {
		return &AlignmentError{Issues: issues}
	}
	return nil
}
