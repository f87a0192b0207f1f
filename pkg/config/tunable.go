package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode tells whether a parameter is set by configuration or derived from
// the data at run time.
type Mode string

const (
	ModeFixed Mode = "fixed"
	ModeAuto  Mode = "auto"
)

// Tunable is a parameter that is either Fixed(value) or Auto. It is resolved
// once per run into a concrete scalar.
type Tunable struct {
	Mode  Mode    `json:"mode" yaml:"mode" toml:"mode" validate:"oneof=fixed auto"`
	Value float64 `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
}

// Fixed returns a Tunable pinned to v.
func Fixed(v float64) Tunable {
	return Tunable{Mode: ModeFixed, Value: v}
}

// Auto returns a Tunable resolved from the data.
func Auto() Tunable {
	return Tunable{Mode: ModeAuto}
}

// IsAuto reports whether the value is derived at run time.
func (t Tunable) IsAuto() bool {
	return t.Mode == ModeAuto
}

func (t Tunable) String() string {
	if t.IsAuto() {
		return string(ModeAuto)
	}
	return fmt.Sprintf("%s(%g)", ModeFixed, t.Value)
}

// ParseTunable accepts "auto" or a number.
func ParseTunable(s string) (Tunable, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == string(ModeAuto) {
		return Auto(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Tunable{}, fmt.Errorf("invalid value %q, expected auto or a number: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Tunable{}, fmt.Errorf("invalid value %q, expected a finite number", s)
	}
	return Fixed(v), nil
}
