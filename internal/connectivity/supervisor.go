// Package connectivity keeps the network link and the broker session up
// without ever blocking the loop for longer than one bounded link bring-up.
package connectivity

import (
	"context"
	"encoding/hex"
	"time"

	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
	"codeberg.org/mutker/airnode/internal/transport"
	"github.com/google/uuid"
)

const (
	DefaultLinkAttempts      = 30
	DefaultLinkRetryDelay    = 500 * time.Millisecond
	DefaultReconnectCooldown = 5 * time.Second
	DefaultClientPrefix      = "airnode"
	DefaultOnlinePayload     = "online"
	DefaultOfflinePayload    = "offline"
	DefaultAckBlinks         = 3
	DefaultAckBlinkPeriod    = 100 * time.Millisecond
)

func DefaultConfig() Config {
	return Config{
		LinkAttempts:      DefaultLinkAttempts,
		LinkRetryDelay:    DefaultLinkRetryDelay,
		ReconnectCooldown: DefaultReconnectCooldown,
		ClientPrefix:      DefaultClientPrefix,
		StatusTopic:       "airnode/status",
		OnlinePayload:     DefaultOnlinePayload,
		OfflinePayload:    DefaultOfflinePayload,
		AckBlinks:         DefaultAckBlinks,
		AckBlinkPeriod:    DefaultAckBlinkPeriod,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.LinkAttempts <= 0 {
		return errFactory.WithData(ErrInvalidAttempts, c.LinkAttempts)
	}
	if c.LinkRetryDelay < 0 || c.ReconnectCooldown < 0 || c.AckBlinkPeriod < 0 {
		return errFactory.WithMessage(ErrInvalidDelay, "delays must not be negative")
	}
	if c.StatusTopic == "" {
		return errFactory.WithMessage(ErrInvalidTopic, "status topic is required")
	}

	return nil
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Supervisor struct {
	cfg       Config
	transport transport.Transport
	indicator Indicator
	logger    logger.Logger
	sleep     SleepFunc
	clientID  func(prefix string) string

	attempted   bool
	lastAttempt time.Duration
	stats       Stats
}

type Option func(*Supervisor)

// WithSleep replaces the blocking wait used between link attempts and
// acknowledgement blinks.
func WithSleep(fn SleepFunc) Option {
	return func(s *Supervisor) {
		s.sleep = fn
	}
}

// WithClientID replaces the session id generator.
func WithClientID(fn func(prefix string) string) Option {
	return func(s *Supervisor) {
		s.clientID = fn
	}
}

func NewSupervisor(cfg Config, tr transport.Transport, ind Indicator, log logger.Logger, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:       cfg,
		transport: tr,
		indicator: ind,
		logger:    log.With("connectivity"),
		sleep:     sleepContext,
		clientID:  ClientID,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Establish brings the link up, blocking for at most LinkAttempts tries.
// It reports whether the link is up when it returns.
func (s *Supervisor) Establish(ctx context.Context) bool {
	s.logger.Info().
		Str("ssid", s.cfg.SSID).
		Int("attempts", s.cfg.LinkAttempts).
		Msg("Connecting link")

	for i := 0; i < s.cfg.LinkAttempts; i++ {
		s.stats.LinkAttempts++
		if s.transport.ConnectLink(ctx, s.cfg.SSID, s.cfg.Password) && s.transport.LinkStatus() {
			s.logger.Info().Int("attempt", i+1).Msg("Link up")
			return true
		}

		if i == s.cfg.LinkAttempts-1 {
			break
		}
		if err := s.sleep(ctx, s.cfg.LinkRetryDelay); err != nil {
			return false
		}
	}

	s.stats.LinkFailures++
	s.logger.Warn().Int("attempts", s.cfg.LinkAttempts).Msg("Link unavailable, retrying next tick")

	return false
}

// Check services the transport and repairs whatever is down. elapsed is
// monotonic time since start; the session cooldown is measured on it.
func (s *Supervisor) Check(ctx context.Context, elapsed time.Duration) Health {
	s.transport.PumpEvents()

	if !s.transport.LinkStatus() {
		if !s.Establish(ctx) {
			return s.Health()
		}
	}

	if s.transport.SessionStatus() {
		return s.Health()
	}

	if s.attempted && elapsed-s.lastAttempt < s.cfg.ReconnectCooldown {
		return s.Health()
	}
	s.attempted = true
	s.lastAttempt = elapsed

	s.connectSession(ctx)

	return s.Health()
}

// Shutdown replaces the retained status with the offline payload while
// the session is still up.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if !s.transport.SessionStatus() || s.cfg.OfflinePayload == "" {
		return
	}

	if !s.transport.Publish(ctx, s.cfg.StatusTopic, []byte(s.cfg.OfflinePayload), true) {
		s.logger.Warn().Str("topic", s.cfg.StatusTopic).Msg("Failed to publish offline status")
	}
}

func (s *Supervisor) Health() Health {
	return Health{
		Link:    s.transport.LinkStatus(),
		Session: s.transport.SessionStatus(),
	}
}

func (s *Supervisor) Attempts() Stats {
	return s.stats
}

func (s *Supervisor) connectSession(ctx context.Context) {
	id := s.clientID(s.cfg.ClientPrefix)
	s.stats.SessionAttempts++

	if !s.transport.ConnectSession(ctx, id) {
		s.logger.Warn().
			Str("client_id", id).
			Dur("cooldown", s.cfg.ReconnectCooldown).
			Msg("Session unavailable")
		return
	}
	s.stats.SessionsUp++

	if !s.transport.Publish(ctx, s.cfg.StatusTopic, []byte(s.cfg.OnlinePayload), true) {
		s.stats.StatusPublishErr++
		s.logger.Warn().Str("topic", s.cfg.StatusTopic).Msg("Failed to publish status")
	}

	s.acknowledge(ctx)
}

// acknowledge flashes the indicator. The alert controller takes the
// indicator back on its next refresh.
func (s *Supervisor) acknowledge(ctx context.Context) {
	if s.indicator == nil {
		return
	}

	for i := 0; i < s.cfg.AckBlinks; i++ {
		s.indicator.SetIndicator(true)
		if s.sleep(ctx, s.cfg.AckBlinkPeriod) != nil {
			break
		}
		s.indicator.SetIndicator(false)
		if s.sleep(ctx, s.cfg.AckBlinkPeriod) != nil {
			break
		}
	}
	s.indicator.SetIndicator(false)
}

// ClientID returns prefix followed by a fresh random suffix.
func ClientID(prefix string) string {
	u := uuid.New()

	return prefix + "-" + hex.EncodeToString(u[:4])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
