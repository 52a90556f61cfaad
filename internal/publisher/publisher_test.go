package publisher_test

import (
	"context"
	"encoding/json"
	"testing"

	"codeberg.org/mutker/airnode/internal/logger"
	"codeberg.org/mutker/airnode/internal/publisher"
	"codeberg.org/mutker/airnode/internal/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	topic   string
	payload string
}

type fakeTransport struct {
	session  bool
	reject   map[string]bool
	calls    int
	messages []message
}

func (f *fakeTransport) ConnectLink(context.Context, string, string) bool { return true }
func (f *fakeTransport) LinkStatus() bool                                 { return true }
func (f *fakeTransport) ConnectSession(context.Context, string) bool      { return f.session }
func (f *fakeTransport) SessionStatus() bool                              { return f.session }
func (f *fakeTransport) PumpEvents()                                      {}

func (f *fakeTransport) Publish(_ context.Context, topic string, payload []byte, _ bool) bool {
	f.calls++
	if f.reject[topic] {
		return false
	}
	f.messages = append(f.messages, message{topic, string(payload)})
	return true
}

func newPublisher(t *testing.T, tr *fakeTransport) *publisher.Publisher {
	t.Helper()

	p, err := publisher.New(publisher.Topics{
		Data:           publisher.DefaultDataTopic,
		Classification: publisher.DefaultClassTopic,
	}, tr, logger.Nop())
	require.NoError(t, err)

	return p
}

func TestPublish(t *testing.T) {
	tr := &fakeTransport{session: true}
	p := newPublisher(t, tr)

	res := p.Publish(context.Background(), publisher.Reading{
		Quality:   87.26,
		Class:     quality.Excellent,
		Sequence:  7,
		Timestamp: 12345,
	})

	require.Equal(t, publisher.Published, res)
	require.Len(t, tr.messages, 2)
	assert.Equal(t, "airnode/qualidade", tr.messages[0].topic)
	assert.JSONEq(t,
		`{"qualidade":87.3,"classificacao":"EXCELENTE","timestamp":12345,"leitura":7}`,
		tr.messages[0].payload)
	assert.Equal(t, message{"airnode/classificacao", "EXCELENTE"}, tr.messages[1])
	assert.Equal(t, uint64(1), p.Stats().Published)
}

func TestPublishSkipsWithoutSession(t *testing.T) {
	tr := &fakeTransport{session: false}
	p := newPublisher(t, tr)

	res := p.Publish(context.Background(), publisher.Reading{Quality: 50, Class: quality.Good, Sequence: 1})

	assert.Equal(t, publisher.Skipped, res)
	assert.Zero(t, tr.calls)
	assert.Equal(t, uint64(1), p.Stats().Skipped)
}

func TestPublishFailureIsNotRetried(t *testing.T) {
	tr := &fakeTransport{session: true, reject: map[string]bool{"airnode/qualidade": true}}
	p := newPublisher(t, tr)

	res := p.Publish(context.Background(), publisher.Reading{Quality: 10, Class: quality.Critical, Sequence: 3})

	assert.Equal(t, publisher.Failed, res)
	assert.Equal(t, 2, tr.calls)
	assert.Equal(t, []message{{"airnode/classificacao", "CRITICA"}}, tr.messages)
	assert.Equal(t, uint64(1), p.Stats().Failed)
}

func TestEncode(t *testing.T) {
	body, err := publisher.Encode(publisher.Reading{
		Quality:   40,
		Class:     quality.Moderate,
		Sequence:  2,
		Timestamp: 4000,
	})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Len(t, doc, 4)
	assert.Equal(t, 40.0, doc["qualidade"])
	assert.Equal(t, "MODERADA", doc["classificacao"])
	assert.Equal(t, 4000.0, doc["timestamp"])
	assert.Equal(t, 2.0, doc["leitura"])
	assert.Contains(t, string(body), `"qualidade":40.0`)
}

func TestRound(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{87.25, "87.3"},
		{87.24, "87.2"},
		{0.05, "0.1"},
		{100, "100"},
		{0, "0"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, publisher.Round(tt.in).String(), "%v", tt.in)
	}
}

func TestNewRequiresTopics(t *testing.T) {
	_, err := publisher.New(publisher.Topics{Data: "x"}, &fakeTransport{}, logger.Nop())
	assert.Error(t, err)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "published", publisher.Published.String())
	assert.Equal(t, "skipped", publisher.Skipped.String())
	assert.Equal(t, "failed", publisher.Failed.String())
}
