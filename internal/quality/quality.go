// Package quality classifies smoothed air-quality percentages into severity
// bands.
package quality

import (
	"strings"

	"codeberg.org/mutker/airnode/internal/errors"
)

// Classification is one of five severity bands, ordered from cleanest to
// most contaminated.
type Classification int

const (
	Excellent Classification = iota
	Good
	Moderate
	Poor
	Critical
)

var labels = [...]string{
	Excellent: "EXCELENTE",
	Good:      "BOA",
	Moderate:  "MODERADA",
	Poor:      "RUIM",
	Critical:  "CRITICA",
}

// String returns the label published on the wire and shown on the display.
func (c Classification) String() string {
	if c < Excellent || c > Critical {
		return "DESCONHECIDA"
	}

	return labels[c]
}

// ParseClassification maps a wire label back to its Classification.
func ParseClassification(label string) (Classification, error) {
	for c, l := range labels {
		if strings.EqualFold(l, label) {
			return Classification(c), nil
		}
	}

	return Critical, errors.New().WithData(errors.ErrInvalidArgument, label)
}

// Thresholds are the inclusive lower bounds of the four upper bands.
// Anything below Poor is Critical.
type Thresholds struct {
	Excellent float64 `mapstructure:"excellent"`
	Good      float64 `mapstructure:"good"`
	Moderate  float64 `mapstructure:"moderate"`
	Poor      float64 `mapstructure:"poor"`
}

// DefaultThresholds returns the 70/50/30/15 band bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Excellent: 70,
		Good:      50,
		Moderate:  30,
		Poor:      15,
	}
}

// Validate requires 0 < Poor < Moderate < Good < Excellent <= 100.
func (t Thresholds) Validate() error {
	if t.Poor <= 0 || t.Poor >= t.Moderate || t.Moderate >= t.Good ||
		t.Good >= t.Excellent || t.Excellent > 100 {
		return errors.New().WithData(errors.ErrInvalidThresholds, t)
	}

	return nil
}

// Classify maps q to its band. Bounds are inclusive on the low side, so
// q == t.Excellent is Excellent.
func (t Thresholds) Classify(q float64) Classification {
	switch {
	case q >= t.Excellent:
		return Excellent
	case q >= t.Good:
		return Good
	case q >= t.Moderate:
		return Moderate
	case q >= t.Poor:
		return Poor
	default:
		return Critical
	}
}
