package connectivity

import "codeberg.org/mutker/airnode/internal/errors"

const (
	ErrInvalidAttempts = errors.ErrorCode("connectivity_invalid_attempts")
	ErrInvalidDelay    = errors.ErrorCode("connectivity_invalid_delay")
	ErrInvalidTopic    = errors.ErrorCode("connectivity_invalid_topic")
)
