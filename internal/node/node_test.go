package node_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"codeberg.org/mutker/airnode/internal/alert"
	"codeberg.org/mutker/airnode/internal/checkpoint"
	"codeberg.org/mutker/airnode/internal/connectivity"
	"codeberg.org/mutker/airnode/internal/logger"
	"codeberg.org/mutker/airnode/internal/node"
	"codeberg.org/mutker/airnode/internal/publisher"
	"codeberg.org/mutker/airnode/internal/quality"
	"codeberg.org/mutker/airnode/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeADC struct {
	raw int
	err error
}

func (f *fakeADC) ReadRaw(context.Context) (int, error) { return f.raw, f.err }

type fakeOutputs struct {
	buzzer    bool
	indicator bool
	lines     [2]string
}

func (f *fakeOutputs) SetBuzzer(on bool)      { f.buzzer = on }
func (f *fakeOutputs) SetIndicator(on bool)   { f.indicator = on }
func (f *fakeOutputs) WriteLines(a, b string) { f.lines = [2]string{a, b} }

type message struct {
	topic   string
	payload string
}

type fakeTransport struct {
	link      bool
	session   bool
	sessionOK bool
	sessions  int
	messages  []message
}

func (f *fakeTransport) ConnectLink(context.Context, string, string) bool { return f.link }
func (f *fakeTransport) LinkStatus() bool                                 { return f.link }
func (f *fakeTransport) SessionStatus() bool                              { return f.session }
func (f *fakeTransport) PumpEvents()                                      {}

func (f *fakeTransport) ConnectSession(context.Context, string) bool {
	f.sessions++
	f.session = f.sessionOK
	return f.session
}

func (f *fakeTransport) Publish(_ context.Context, topic string, payload []byte, _ bool) bool {
	if !f.session {
		return false
	}
	f.messages = append(f.messages, message{topic, string(payload)})
	return true
}

func (f *fakeTransport) on(topic string) []string {
	var out []string
	for _, m := range f.messages {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type memoryStore struct {
	saved checkpoint.State
	found bool
}

func (m *memoryStore) Load(context.Context) (checkpoint.State, bool, error) {
	return m.saved, m.found, nil
}

func (m *memoryStore) Save(_ context.Context, s checkpoint.State) error {
	m.saved = s
	m.found = true
	return nil
}

func (m *memoryStore) Close() error { return nil }

type rig struct {
	node        *node.Node
	adc         *fakeADC
	out         *fakeOutputs
	tr          *fakeTransport
	store       *memoryStore
	transitions []alert.Transition
}

func newRig(t *testing.T, tr *fakeTransport, store *memoryStore) *rig {
	t.Helper()

	log := logger.Nop()
	r := &rig{adc: &fakeADC{}, out: &fakeOutputs{}, tr: tr, store: store}

	sampler, err := sensor.NewSampler(r.adc, sensor.DefaultRawMax)
	require.NoError(t, err)
	filter, err := sensor.NewFilter(sensor.DefaultWindowSize)
	require.NoError(t, err)

	ctrl, err := alert.NewController(alert.DefaultConfig(), r.out, log,
		alert.WithNotifier(func(tn alert.Transition) { r.transitions = append(r.transitions, tn) }))
	require.NoError(t, err)

	noSleep := func(context.Context, time.Duration) error { return nil }
	sup, err := connectivity.NewSupervisor(connectivity.DefaultConfig(), tr, r.out, log,
		connectivity.WithSleep(noSleep))
	require.NoError(t, err)

	pub, err := publisher.New(publisher.Topics{
		Data:           publisher.DefaultDataTopic,
		Classification: publisher.DefaultClassTopic,
	}, tr, log)
	require.NoError(t, err)

	c := node.Components{
		Sampler:    sampler,
		Filter:     filter,
		Thresholds: quality.DefaultThresholds(),
		Alert:      ctrl,
		Supervisor: sup,
		Publisher:  pub,
	}
	if store != nil {
		c.Checkpoint = store
	}

	r.node, err = node.New(node.DefaultConfig(), c, log)
	require.NoError(t, err)

	return r
}

// run ticks every 100ms from..to inclusive.
func (r *rig) run(ctx context.Context, from, to time.Duration) {
	for e := from; e <= to; e += 100 * time.Millisecond {
		r.node.Tick(ctx, e)
	}
}

func online() *fakeTransport {
	return &fakeTransport{link: true, sessionOK: true}
}

func TestNoGasDrivesCritical(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, online(), nil)
	r.adc.raw = 4095

	r.node.Start(ctx)
	r.run(ctx, 0, 10*time.Second)

	state := r.node.State()
	assert.Equal(t, uint64(5), state.Sequence)
	assert.Equal(t, 0.0, state.Quality)
	assert.Equal(t, quality.Critical, state.Class)
	assert.Equal(t, alert.Critical, state.Alert)
	assert.True(t, r.out.buzzer)
	assert.True(t, r.out.indicator)

	require.Len(t, r.transitions, 1)
	assert.Equal(t, alert.Initializing, r.transitions[0].From)
	assert.Equal(t, alert.Critical, r.transitions[0].To)

	assert.Equal(t, []string{"CRITICA", "CRITICA", "CRITICA", "CRITICA", "CRITICA"},
		r.tr.on(publisher.DefaultClassTopic))

	data := r.tr.on(publisher.DefaultDataTopic)
	require.Len(t, data, 5)

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(data[4]), &last))
	assert.Equal(t, 0.0, last["qualidade"])
	assert.Equal(t, "CRITICA", last["classificacao"])
	assert.Equal(t, 10000.0, last["timestamp"])
	assert.Equal(t, 5.0, last["leitura"])
}

func TestCleanAirStaysNormal(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, online(), nil)
	r.adc.raw = 0

	r.node.Start(ctx)
	r.run(ctx, 0, 10*time.Second)

	state := r.node.State()
	assert.Equal(t, 100.0, state.Quality)
	assert.Equal(t, quality.Excellent, state.Class)
	assert.Equal(t, alert.Normal, state.Alert)
	assert.False(t, r.out.buzzer)
	assert.False(t, r.out.indicator)
	assert.Equal(t, "EXCELENTE       ", r.out.lines[1])
}

func TestNoPublishWithoutSession(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{link: true, sessionOK: false}
	r := newRig(t, tr, nil)
	r.adc.raw = 2000

	r.node.Start(ctx)
	r.run(ctx, 0, 6*time.Second)

	assert.Equal(t, uint64(3), r.node.State().Sequence)
	assert.Empty(t, tr.messages)
	assert.False(t, r.node.State().Health.Session)
}

func TestTimersAreIndependent(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{link: true, sessionOK: false}
	r := newRig(t, tr, nil)

	r.run(ctx, 0, 5*time.Second)

	assert.Equal(t, uint64(2), r.node.State().Sequence, "samples at 2s and 4s")
	assert.Equal(t, 2, tr.sessions, "session attempts at 0s and 5s")
}

func TestSessionRecoveryAnnouncesStatus(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{link: true, sessionOK: false}
	r := newRig(t, tr, nil)

	r.run(ctx, 0, 2*time.Second)
	tr.sessionOK = true
	r.run(ctx, 2100*time.Millisecond, 5*time.Second)

	assert.Equal(t, []string{"online"}, tr.on("airnode/status"))
	assert.Empty(t, tr.on(publisher.DefaultDataTopic), "reading at 4s went out before the session")
}

func TestAttentionBlinksBetweenSamples(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, online(), nil)
	// quality 40: attention band
	r.adc.raw = 2457

	r.node.Tick(ctx, 2*time.Second)
	require.Equal(t, alert.Attention, r.node.State().Alert)
	assert.False(t, r.out.buzzer)

	r.node.Tick(ctx, 2200*time.Millisecond)
	assert.True(t, r.out.indicator)
	r.node.Tick(ctx, 2600*time.Millisecond)
	assert.False(t, r.out.indicator)
	r.node.Tick(ctx, 3000*time.Millisecond)
	assert.True(t, r.out.indicator)
}

func TestSensorErrorSkipsReading(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, online(), nil)
	r.adc.err = errors.New("adc timeout")

	r.run(ctx, 0, 4*time.Second)

	assert.Zero(t, r.node.State().Sequence)
	assert.Empty(t, r.tr.on(publisher.DefaultDataTopic))

	r.adc.err = nil
	r.run(ctx, 4100*time.Millisecond, 6*time.Second)
	assert.Equal(t, uint64(1), r.node.State().Sequence)
}

func TestCheckpointContinuesSequence(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{saved: checkpoint.State{Sequence: 41, Alert: alert.Critical}, found: true}
	r := newRig(t, online(), store)
	r.adc.raw = 4095

	r.node.Start(ctx)
	r.node.Tick(ctx, 100*time.Millisecond)

	assert.Equal(t, alert.Initializing, r.node.State().Alert)
	assert.False(t, r.out.buzzer, "no alert output before the first reading")
	assert.Empty(t, r.transitions)

	r.run(ctx, 200*time.Millisecond, 2*time.Second)

	assert.Equal(t, uint64(42), r.node.State().Sequence)
	require.Len(t, r.transitions, 1, "entry into the state notifies after a restart")
	assert.Equal(t, alert.Initializing, r.transitions[0].From)
	assert.Equal(t, alert.Critical, r.transitions[0].To)
	assert.True(t, r.out.buzzer)
	assert.Equal(t, uint64(42), store.saved.Sequence)

	r.node.Shutdown(ctx)
	assert.False(t, r.out.buzzer)
	assert.Equal(t, alert.Critical, store.saved.Alert)
}

func TestRestoredAlertDoesNotDriveOutputs(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{saved: checkpoint.State{Sequence: 7, Alert: alert.Critical}, found: true}
	r := newRig(t, online(), store)
	r.adc.raw = 0

	r.node.Start(ctx)
	r.run(ctx, 0, 1900*time.Millisecond)

	assert.False(t, r.out.buzzer)
	assert.False(t, r.out.indicator)
	assert.Equal(t, alert.Initializing, r.node.State().Alert)

	r.node.Tick(ctx, 2*time.Second)

	assert.Equal(t, alert.Normal, r.node.State().Alert)
	assert.False(t, r.out.buzzer)
	require.Len(t, r.transitions, 1)
	assert.Equal(t, alert.Normal, r.transitions[0].To)
}

func TestShutdownBeforeFirstReadingKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{saved: checkpoint.State{Sequence: 12, Alert: alert.Attention}, found: true}
	r := newRig(t, online(), store)

	r.node.Start(ctx)
	r.node.Tick(ctx, 100*time.Millisecond)
	r.node.Shutdown(ctx)

	assert.Equal(t, uint64(12), store.saved.Sequence)
	assert.Equal(t, alert.Attention, store.saved.Alert)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, node.DefaultConfig().Validate())
	assert.Error(t, node.Config{SampleInterval: 0, TickInterval: time.Second}.Validate())
	assert.Error(t, node.Config{SampleInterval: time.Second, TickInterval: 2 * time.Second}.Validate())
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRig(t, online(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, r.node.Run(ctx))
}
