package hal

import "codeberg.org/mutker/airnode/internal/errors"

const (
	ErrUnknownDriver  = errors.ErrorCode("hal_unknown_driver")
	ErrUnknownPattern = errors.ErrorCode("hal_unknown_pattern")
	ErrOpenFailed     = errors.ErrorCode("hal_open_failed")
	ErrProtocol       = errors.ErrorCode("hal_protocol_error")
	ErrWriteFailed    = errors.ErrorCode("hal_write_failed")
)
