package sensor

import (
	"context"

	"codeberg.org/mutker/airnode/internal/errors"
)

// DefaultRawMax is the full scale of a 12-bit converter.
const DefaultRawMax = 4095

// Sampler converts raw readings into quality percentages. The sensor output
// rises with contamination, so the rescaled value is inverted.
type Sampler struct {
	adc    ADC
	rawMax int
}

func NewSampler(adc ADC, rawMax int) (*Sampler, error) {
	if rawMax <= 0 {
		return nil, errors.New().WithData(ErrInvalidRange, rawMax)
	}

	return &Sampler{adc: adc, rawMax: rawMax}, nil
}

func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	raw, err := s.adc.ReadRaw(ctx)
	if err != nil {
		return Sample{}, errors.New().Wrap(ErrReadFailed, err)
	}

	return Sample{Raw: raw, Quality: Convert(raw, s.rawMax)}, nil
}

// Convert maps raw in [0, rawMax] to quality in [0, 100], 100 being clean air.
// Out-of-range raw values are clamped.
func Convert(raw, rawMax int) float64 {
	scaled := float64(raw) * 100 / float64(rawMax)

	return clamp(100-scaled, 0, 100)
}

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}
