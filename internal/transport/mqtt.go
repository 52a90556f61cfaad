// Package transport implements the broker capability on MQTT v5.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/airnode/internal/discovery"
	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
	"github.com/eclipse/paho.golang/paho"
)

const (
	defaultKeepAlive      = 15 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
	eventBufferSize       = 8
)

// Will is published by the broker when the session drops without a clean
// disconnect.
type Will struct {
	Topic   string
	Payload []byte
	Retain  bool
}

type Config struct {
	Address        string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	QoS            byte
	Will           *Will
}

func (c Config) withDefaults() Config {
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}

	return c
}

// DialFunc opens the link connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type sessionEvent struct {
	generation uint64
	err        error
}

// MQTT is a Transport backed by a paho MQTT v5 client. Paho runs keepalive
// and inbound reads on its own goroutines; their failures are queued and
// applied to the health flags by PumpEvents on the caller's goroutine.
type MQTT struct {
	cfg      Config
	resolver discovery.Resolver
	dial     DialFunc
	logger   logger.Logger

	mu         sync.Mutex
	address    string
	conn       net.Conn
	client     *paho.Client
	generation uint64

	events    chan sessionEvent
	linkUp    atomic.Bool
	sessionUp atomic.Bool
	published atomic.Uint64
	failed    atomic.Uint64
}

type Option func(*MQTT)

// WithResolver resolves the broker address at link time, for example
// through mDNS. A configured Address takes precedence.
func WithResolver(r discovery.Resolver) Option {
	return func(m *MQTT) {
		m.resolver = r
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(m *MQTT) {
		m.dial = d
	}
}

func NewMQTT(cfg Config, log logger.Logger, opts ...Option) (*MQTT, error) {
	m := &MQTT{
		cfg:    cfg.withDefaults(),
		logger: log.With("transport"),
		events: make(chan sessionEvent, eventBufferSize),
	}
	var d net.Dialer
	m.dial = d.DialContext

	for _, opt := range opts {
		opt(m)
	}

	if m.cfg.Address != "" {
		m.resolver = discovery.Static(m.cfg.Address)
	}
	if m.resolver == nil {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "broker address or discovery required")
	}

	return m, nil
}

// ConnectLink resolves the broker and opens the network connection. Hosts
// join the wireless network outside this process, so ssid is informational
// and credentials are not used by the TCP dialer.
func (m *MQTT) ConnectLink(ctx context.Context, ssid, _ string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.linkUp.Load() && m.conn != nil {
		return true
	}

	if err := m.openConn(ctx); err != nil {
		m.logger.Debug().Err(err).Str("ssid", ssid).Msg("Link attempt failed")
		return false
	}

	m.logger.Info().Str("ssid", ssid).Str("address", m.address).Msg("Link established")

	return true
}

func (m *MQTT) LinkStatus() bool {
	return m.linkUp.Load()
}

// ConnectSession performs one MQTT CONNECT. A failed attempt drops the
// connection; the next attempt dials again and reports the link down if the
// broker is unreachable.
func (m *MQTT) ConnectSession(ctx context.Context, clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionUp.Load() {
		return true
	}

	if err := m.connect(ctx, clientID); err != nil {
		m.logger.Warn().Err(err).Str("client_id", clientID).Msg("Session attempt failed")
		m.dropLocked()
		return false
	}

	m.sessionUp.Store(true)
	m.logger.Info().Str("client_id", clientID).Str("address", m.address).Msg("Session established")

	return true
}

func (m *MQTT) SessionStatus() bool {
	return m.sessionUp.Load()
}

// Publish sends one message. It reports false when the session is down or
// the broker rejects the message; there is no retry.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte, retain bool) bool {
	if !m.sessionUp.Load() {
		return false
	}

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()

	_, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     m.cfg.QoS,
		Retain:  retain,
		Payload: payload,
	})
	if err != nil {
		m.failed.Add(1)
		m.logger.Debug().
			Err(errors.New().Wrap(ErrPublishFailed, err)).
			Str("topic", topic).
			Msg("Publish rejected")
		return false
	}
	m.published.Add(1)

	return true
}

// PumpEvents applies session failures reported by paho since the last call.
func (m *MQTT) PumpEvents() {
	for {
		select {
		case ev := <-m.events:
			m.mu.Lock()
			if ev.generation == m.generation && m.sessionUp.Load() {
				m.logger.Warn().
					Err(errors.New().Wrap(ErrSessionDropped, ev.err)).
					Msg("Session lost")
				m.dropLocked()
			}
			m.mu.Unlock()
		default:
			return
		}
	}
}

// Disconnect ends the session cleanly so the broker does not publish the
// will, then closes the link.
func (m *MQTT) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.client != nil && m.sessionUp.Load() {
		err = m.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	m.dropLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.linkUp.Store(false)

	return err
}

// Stats returns the number of accepted and rejected publishes.
func (m *MQTT) Stats() (published, failed uint64) {
	return m.published.Load(), m.failed.Load()
}

func (m *MQTT) openConn(ctx context.Context) error {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	if m.address == "" {
		addr, err := m.resolver.Resolve(ctx)
		if err != nil {
			m.linkUp.Store(false)
			return errFactory.Wrap(ErrResolveFailed, err)
		}
		m.address = addr
	}

	conn, err := m.dial(ctx, "tcp", m.address)
	if err != nil {
		m.linkUp.Store(false)
		if m.cfg.Address == "" {
			// rediscover next time, the broker may have moved
			m.address = ""
		}
		return errFactory.Wrap(ErrDialFailed, err)
	}

	m.conn = conn
	m.linkUp.Store(true)

	return nil
}

func (m *MQTT) connect(ctx context.Context, clientID string) error {
	if m.conn == nil {
		if err := m.openConn(ctx); err != nil {
			return err
		}
	}

	m.generation++
	gen := m.generation
	m.client = paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     m.conn,
		OnClientError: func(err error) {
			m.report(gen, err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			var code byte
			if d != nil {
				code = d.ReasonCode
			}
			m.report(gen, fmt.Errorf("server disconnect, reason code %d", code))
		},
	})

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	if _, err := m.client.Connect(ctx, m.connectPacket(clientID)); err != nil {
		return errors.New().Wrap(ErrConnectFailed, err)
	}

	return nil
}

func (m *MQTT) connectPacket(clientID string) *paho.Connect {
	cp := &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  uint16(m.cfg.KeepAlive / time.Second),
		CleanStart: true,
	}
	if m.cfg.Username != "" {
		cp.Username = m.cfg.Username
		cp.UsernameFlag = true
	}
	if m.cfg.Password != "" {
		cp.Password = []byte(m.cfg.Password)
		cp.PasswordFlag = true
	}
	if w := m.cfg.Will; w != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   w.Topic,
			Payload: w.Payload,
			Retain:  w.Retain,
			QoS:     m.cfg.QoS,
		}
	}

	return cp
}

// report is called from paho goroutines.
func (m *MQTT) report(generation uint64, err error) {
	select {
	case m.events <- sessionEvent{generation: generation, err: err}:
	default:
		// a pending event for the same session already forces a drop
	}
}

// dropLocked discards the client and its connection. The link flag is left
// alone: the next session attempt redials and updates it.
func (m *MQTT) dropLocked() {
	m.sessionUp.Store(false)
	m.client = nil
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

var _ Transport = (*MQTT)(nil)
