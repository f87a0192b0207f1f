package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RangeError reports a configured parameter outside its documented domain.
type RangeError struct {
	Field string
	Value any
	Rule  string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("config %s=%v out of range (%s)", e.Field, e.Value, e.Rule)
}

// Validate checks every parameter against its domain. All violations are
// joined; each one is a *RangeError.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config required")
	}

	var errs []error

	if err := validate.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, fe := range ves {
			rule := fe.Tag()
			if fe.Param() != "" {
				rule += "=" + fe.Param()
			}
			errs = append(errs, &RangeError{Field: fe.Namespace(), Value: fe.Value(), Rule: rule})
		}
	}

	if !c.KSelect.K.IsAuto() && (c.KSelect.K.Value < KLowerBound || c.KSelect.K.Value > KUpperBound) {
		errs = append(errs, &RangeError{
			Field: "Config.KSelect.K.Value",
			Value: c.KSelect.K.Value,
			Rule:  fmt.Sprintf("within [%g,%g]", KLowerBound, KUpperBound),
		})
	}

	if !c.Meta.Gamma.IsAuto() && (c.Meta.Gamma.Value < 0 || c.Meta.Gamma.Value > 1) {
		errs = append(errs, &RangeError{Field: "Config.Meta.Gamma.Value", Value: c.Meta.Gamma.Value, Rule: "within [0,1]"})
	}

	if !c.BT.SoftPower.IsAuto() && c.BT.SoftPower.Value < 0 {
		errs = append(errs, &RangeError{Field: "Config.BT.SoftPower.Value", Value: c.BT.SoftPower.Value, Rule: "gte=0"})
	}

	return errors.Join(errs...)
}
