package sensor

import "codeberg.org/mutker/airnode/internal/errors"

const (
	ErrReadFailed    = errors.ErrSensorRead
	ErrInvalidWindow = errors.ErrorCode("sensor_invalid_window")
	ErrInvalidRange  = errors.ErrorCode("sensor_invalid_range")
)
