package connectivity

import "time"

// Indicator is the status light used for the session acknowledgement.
type Indicator interface {
	SetIndicator(on bool)
}

type Config struct {
	SSID     string
	Password string

	// LinkAttempts bounds one blocking link bring-up, spaced LinkRetryDelay
	// apart.
	LinkAttempts   int
	LinkRetryDelay time.Duration

	// ReconnectCooldown is the minimum spacing between session attempts.
	ReconnectCooldown time.Duration

	ClientPrefix   string
	StatusTopic    string
	OnlinePayload  string
	OfflinePayload string

	AckBlinks      int
	AckBlinkPeriod time.Duration
}

// Health is the last observed connectivity.
type Health struct {
	Link    bool
	Session bool
}

// Stats counts attempts since start.
type Stats struct {
	LinkAttempts     uint64
	LinkFailures     uint64
	SessionAttempts  uint64
	SessionsUp       uint64
	StatusPublishErr uint64
}
