// Package publisher encodes readings and hands them to the transport.
package publisher

import (
	"context"
	"encoding/json"

	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
	"codeberg.org/mutker/airnode/internal/quality"
	"codeberg.org/mutker/airnode/internal/transport"
	"github.com/shopspring/decimal"
)

const (
	DefaultDataTopic  = "airnode/qualidade"
	DefaultClassTopic = "airnode/classificacao"
)

const (
	ErrEncodeFailed = errors.ErrorCode("publisher_encode_failed")
	ErrInvalidTopic = errors.ErrorCode("publisher_invalid_topic")
)

// Reading is one smoothed, classified sample.
type Reading struct {
	Quality   float64
	Class     quality.Classification
	Sequence  uint64
	Timestamp int64
}

// Result is the outcome of one Publish.
type Result int

const (
	Published Result = iota
	Skipped
	Failed
)

func (r Result) String() string {
	switch r {
	case Published:
		return "published"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

type Topics struct {
	Data           string
	Classification string
}

// payload is the wire format consumed by the dashboards.
type payload struct {
	Quality        json.Number `json:"qualidade"`
	Classification string      `json:"classificacao"`
	Timestamp      int64       `json:"timestamp"`
	Sequence       uint64      `json:"leitura"`
}

type Stats struct {
	Published uint64
	Skipped   uint64
	Failed    uint64
}

type Publisher struct {
	topics    Topics
	transport transport.Transport
	logger    logger.Logger
	stats     Stats
}

func New(topics Topics, tr transport.Transport, log logger.Logger) (*Publisher, error) {
	if topics.Data == "" || topics.Classification == "" {
		return nil, errors.New().WithData(ErrInvalidTopic, topics)
	}

	return &Publisher{
		topics:    topics,
		transport: tr,
		logger:    log.With("publisher"),
	}, nil
}

// Publish sends r to the data topic and its label to the classification
// topic. Nothing is sent while the session is down, and failed messages
// are dropped.
func (p *Publisher) Publish(ctx context.Context, r Reading) Result {
	if !p.transport.SessionStatus() {
		p.stats.Skipped++
		return Skipped
	}

	body, err := Encode(r)
	if err != nil {
		p.stats.Failed++
		p.logger.Error().Err(err).Uint64("sequence", r.Sequence).Msg("Failed to encode reading")
		return Failed
	}

	dataOK := p.transport.Publish(ctx, p.topics.Data, body, false)
	classOK := p.transport.Publish(ctx, p.topics.Classification, []byte(r.Class.String()), false)
	if !dataOK || !classOK {
		p.stats.Failed++
		p.logger.Warn().
			Uint64("sequence", r.Sequence).
			Bool("data", dataOK).
			Bool("classification", classOK).
			Msg("Publish failed")
		return Failed
	}
	p.stats.Published++

	return Published
}

func (p *Publisher) Stats() Stats {
	return p.stats
}

// Encode renders r as the JSON document sent on the data topic. Quality is
// rounded half away from zero to one decimal.
func Encode(r Reading) ([]byte, error) {
	body, err := json.Marshal(payload{
		Quality:        json.Number(Round(r.Quality).StringFixed(1)),
		Classification: r.Class.String(),
		Timestamp:      r.Timestamp,
		Sequence:       r.Sequence,
	})
	if err != nil {
		return nil, errors.New().Wrap(ErrEncodeFailed, err)
	}

	return body, nil
}

// Round returns q rounded to one decimal place.
func Round(q float64) decimal.Decimal {
	return decimal.NewFromFloat(q).Round(1)
}
