package alert

import "codeberg.org/mutker/airnode/internal/errors"

const (
	ErrInvalidLevels = errors.ErrorCode("alert_invalid_levels")
	ErrInvalidBlink  = errors.ErrorCode("alert_invalid_blink_period")
	ErrInvalidWidth  = errors.ErrorCode("alert_invalid_display_width")
)
