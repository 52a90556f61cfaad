package sensor

import "context"

// ADC reads one raw conversion from the gas sensor channel.
type ADC interface {
	ReadRaw(ctx context.Context) (int, error)
}

// Sample is one converted sensor reading.
type Sample struct {
	Raw     int
	Quality float64
}
