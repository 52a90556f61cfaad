package transport

import "context"

// Transport is the network capability used by the connectivity supervisor
// and the publisher. The link is the network path to the broker and the
// session is the MQTT connection on top of it.
type Transport interface {
	ConnectLink(ctx context.Context, ssid, credentials string) bool
	LinkStatus() bool
	ConnectSession(ctx context.Context, clientID string) bool
	SessionStatus() bool
	Publish(ctx context.Context, topic string, payload []byte, retain bool) bool
	// PumpEvents services keepalive and inbound events. It must be called
	// every tick, including ticks with nothing to publish.
	PumpEvents()
}
