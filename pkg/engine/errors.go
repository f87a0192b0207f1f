package engine

import (
	"errors"
	"fmt"
)

// WarningKind classifies a non-fatal condition found during a run.
type WarningKind string

const (
	// InsufficientDataWarning: a deck has no observed opponent, so its
	// MAS, SE and LB are undefined.
	InsufficientDataWarning WarningKind = "insufficient-data"
	// EmptyGraphWarning: no comparison survived the Bradley-Terry filter
	// and every strength is neutral.
	EmptyGraphWarning WarningKind = "empty-graph"
)

// Warning is a non-fatal condition recorded in the run diagnostics.
type Warning struct {
	Kind    WarningKind `json:"kind" yaml:"kind"`
	Deck    string      `json:"deck,omitempty" yaml:"deck,omitempty"`
	Message string      `json:"message" yaml:"message"`
}

func (w Warning) Error() string {
	if w.Deck != "" {
		return fmt.Sprintf("%s: %s: %s", w.Kind, w.Deck, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}

var (
	// ErrNoInput is returned when neither a flat table nor a rate matrix
	// pair was supplied.
	ErrNoInput = errors.New("no match data supplied")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")
)
