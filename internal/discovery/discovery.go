// Package discovery locates the MQTT broker on the local network over mDNS.
package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD type advertised by MQTT brokers.
	ServiceType = "_mqtt._tcp"

	// ServiceDomain is the mDNS browse domain.
	ServiceDomain = "local."

	defaultTimeout = 3 * time.Second
)

const (
	ErrBrowseFailed   = errors.ErrorCode("discovery_browse_failed")
	ErrBrokerNotFound = errors.ErrorCode("discovery_broker_not_found")
)

// Resolver returns a host:port for the broker.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Static always resolves to a fixed address.
type Static string

func (s Static) Resolve(context.Context) (string, error) {
	return string(s), nil
}

// MDNS browses for the first broker advertising ServiceType.
type MDNS struct {
	Service string
	Domain  string
	Timeout time.Duration
	logger  logger.Logger
}

func NewMDNS(timeout time.Duration, log logger.Logger) *MDNS {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &MDNS{
		Service: ServiceType,
		Domain:  ServiceDomain,
		Timeout: timeout,
		logger:  log.With("discovery"),
	}
}

func (m *MDNS) Resolve(ctx context.Context) (string, error) {
	errFactory := errors.New()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", errFactory.Wrap(ErrBrowseFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, m.Service, m.Domain, entries); err != nil {
		return "", errFactory.Wrap(ErrBrowseFailed, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", errFactory.WithData(ErrBrokerNotFound, m.Service)
			}
			if addr := EntryAddress(entry); addr != "" {
				m.logger.Info().
					Str("instance", entry.Instance).
					Str("address", addr).
					Msg("Broker discovered")
				return addr, nil
			}
		case <-ctx.Done():
			return "", errFactory.WithData(ErrBrokerNotFound, m.Service)
		}
	}
}

// EntryAddress prefers the first IPv4 address and falls back to the host
// name. It returns "" for entries without a usable address.
func EntryAddress(entry *zeroconf.ServiceEntry) string {
	if entry == nil || entry.Port <= 0 {
		return ""
	}

	port := strconv.Itoa(entry.Port)
	if len(entry.AddrIPv4) > 0 {
		return net.JoinHostPort(entry.AddrIPv4[0].String(), port)
	}
	if entry.HostName != "" {
		return net.JoinHostPort(entry.HostName, port)
	}

	return ""
}
