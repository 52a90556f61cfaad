package transport

import "codeberg.org/mutker/airnode/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrResolveFailed  = errors.ErrorCode("transport_resolve_failed")
	ErrDialFailed     = errors.ErrorCode("transport_dial_failed")
	ErrConnectFailed  = errors.ErrorCode("transport_connect_failed")
	ErrPublishFailed  = errors.ErrorCode("transport_publish_failed")
	ErrSessionDropped = errors.ErrorCode("transport_session_dropped")
)
