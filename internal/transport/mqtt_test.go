package transport_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/airnode/internal/discovery"
	"codeberg.org/mutker/airnode/internal/logger"
	"codeberg.org/mutker/airnode/internal/transport"
	"github.com/eclipse/paho.golang/paho"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

// freeAddress reserves a loopback port and releases it for the broker.
func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// Spin up an in-process MQTT broker. The returned stop func may be called
// before cleanup; the server only tolerates one Close.
func startBroker(t *testing.T) (func(), string) {
	t.Helper()

	addr := freeAddress(t)
	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: addr,
	})))
	require.NoError(t, broker.Serve())

	var once sync.Once
	stop := func() {
		once.Do(func() { _ = broker.Close() })
	}
	t.Cleanup(stop)

	return stop, addr
}

type observer struct {
	mu       sync.Mutex
	received []*paho.Publish
}

func observe(ctx context.Context, t *testing.T, addr, filter string) *observer {
	t.Helper()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	require.NoError(t, err)

	o := &observer{}
	id := fmt.Sprintf("observer-%d", time.Now().UnixNano())
	client := paho.NewClient(paho.ClientConfig{
		ClientID: id,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				o.mu.Lock()
				defer o.mu.Unlock()
				o.received = append(o.received, pr.Packet)
				return true, nil
			},
		},
	})

	_, err = client.Connect(ctx, &paho.Connect{ClientID: id, KeepAlive: 5, CleanStart: true})
	require.NoError(t, err)

	_, err = client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 0}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(&paho.Disconnect{}) })

	return o
}

func (o *observer) find(topic string) *paho.Publish {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, p := range o.received {
		if p.Topic == topic {
			return p
		}
	}

	return nil
}

func connected(ctx context.Context, t *testing.T, addr string) *transport.MQTT {
	t.Helper()

	tr, err := transport.NewMQTT(transport.Config{Address: addr}, logger.Nop())
	require.NoError(t, err)
	require.True(t, tr.ConnectLink(ctx, "lab", "secret"))
	require.True(t, tr.ConnectSession(ctx, "airnode-test"))
	t.Cleanup(func() { _ = tr.Disconnect() })

	return tr
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	_, addr := startBroker(t)

	tr, err := transport.NewMQTT(transport.Config{Address: addr}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Disconnect() })

	assert.False(t, tr.LinkStatus())
	assert.False(t, tr.SessionStatus())
	assert.False(t, tr.Publish(ctx, "airnode/qualidade", []byte("{}"), false))

	require.True(t, tr.ConnectLink(ctx, "lab", "secret"))
	assert.True(t, tr.LinkStatus())
	assert.False(t, tr.SessionStatus())

	require.True(t, tr.ConnectSession(ctx, "airnode-1a2b"))
	assert.True(t, tr.SessionStatus())

	obs := observe(ctx, t, addr, "airnode/#")
	require.True(t, tr.Publish(ctx, "airnode/classificacao", []byte("BOA"), false))

	require.Eventually(t, func() bool {
		return obs.find("airnode/classificacao") != nil
	}, waitFor, tick)
	assert.Equal(t, []byte("BOA"), obs.find("airnode/classificacao").Payload)

	published, failed := tr.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Zero(t, failed)
}

func TestRetainedStatusReachesLateSubscriber(t *testing.T) {
	ctx := context.Background()
	_, addr := startBroker(t)

	tr := connected(ctx, t, addr)
	require.True(t, tr.Publish(ctx, "airnode/status", []byte("online"), true))

	obs := observe(ctx, t, addr, "airnode/status")
	require.Eventually(t, func() bool {
		return obs.find("airnode/status") != nil
	}, waitFor, tick)

	msg := obs.find("airnode/status")
	assert.Equal(t, []byte("online"), msg.Payload)
	assert.True(t, msg.Retain)
}

func TestLinkFailsWhenBrokerUnreachable(t *testing.T) {
	ctx := context.Background()

	tr, err := transport.NewMQTT(transport.Config{
		Address:        freeAddress(t),
		ConnectTimeout: time.Second,
	}, logger.Nop())
	require.NoError(t, err)

	assert.False(t, tr.ConnectLink(ctx, "lab", "secret"))
	assert.False(t, tr.LinkStatus())
	assert.False(t, tr.ConnectSession(ctx, "airnode-x"))
	assert.False(t, tr.SessionStatus())
}

func TestPumpEventsDetectsLostSession(t *testing.T) {
	ctx := context.Background()
	stop, addr := startBroker(t)

	tr := connected(ctx, t, addr)
	stop()

	require.Eventually(t, func() bool {
		tr.PumpEvents()
		return !tr.SessionStatus()
	}, waitFor, tick)

	assert.False(t, tr.Publish(ctx, "airnode/qualidade", []byte("{}"), false))

	// the broker is gone, so the next attempt also loses the link
	assert.False(t, tr.ConnectSession(ctx, "airnode-retry"))
	assert.False(t, tr.LinkStatus())
}

func TestWillAnnouncesOffline(t *testing.T) {
	ctx := context.Background()
	_, addr := startBroker(t)

	var conn net.Conn
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		var d net.Dialer
		c, err := d.DialContext(ctx, network, address)
		conn = c
		return c, err
	}

	tr, err := transport.NewMQTT(transport.Config{
		Address: addr,
		Will:    &transport.Will{Topic: "airnode/status", Payload: []byte("offline"), Retain: true},
	}, logger.Nop(), transport.WithDialer(dial))
	require.NoError(t, err)
	require.True(t, tr.ConnectLink(ctx, "lab", ""))
	require.True(t, tr.ConnectSession(ctx, "airnode-will"))

	// drop the socket without a DISCONNECT
	require.NoError(t, conn.Close())

	obs := observe(ctx, t, addr, "airnode/status")
	require.Eventually(t, func() bool {
		return obs.find("airnode/status") != nil
	}, waitFor, tick)
	assert.Equal(t, []byte("offline"), obs.find("airnode/status").Payload)
}

func TestResolverSuppliesAddress(t *testing.T) {
	ctx := context.Background()
	_, addr := startBroker(t)

	tr, err := transport.NewMQTT(transport.Config{}, logger.Nop(),
		transport.WithResolver(discovery.Static(addr)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Disconnect() })

	assert.True(t, tr.ConnectLink(ctx, "lab", ""))
}

func TestNewMQTTRequiresEndpoint(t *testing.T) {
	_, err := transport.NewMQTT(transport.Config{}, logger.Nop())
	require.Error(t, err)
}
