// Package node runs the sampling and connectivity loop.
package node

import (
	"context"
	"time"

	"codeberg.org/mutker/airnode/internal/alert"
	"codeberg.org/mutker/airnode/internal/checkpoint"
	"codeberg.org/mutker/airnode/internal/connectivity"
	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
	"codeberg.org/mutker/airnode/internal/publisher"
	"codeberg.org/mutker/airnode/internal/quality"
	"codeberg.org/mutker/airnode/internal/sensor"
)

const (
	DefaultSampleInterval = 2 * time.Second
	DefaultTickInterval   = 100 * time.Millisecond
)

type Config struct {
	SampleInterval time.Duration
	TickInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleInterval: DefaultSampleInterval,
		TickInterval:   DefaultTickInterval,
	}
}

func (c Config) Validate() error {
	if c.SampleInterval <= 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, c.SampleInterval)
	}
	if c.TickInterval <= 0 || c.TickInterval > c.SampleInterval {
		return errors.New().WithData(errors.ErrInvalidInterval, c.TickInterval)
	}

	return nil
}

// Components are the collaborators driven by the loop.
type Components struct {
	Sampler    *sensor.Sampler
	Filter     *sensor.Filter
	Thresholds quality.Thresholds
	Alert      *alert.Controller
	Supervisor *connectivity.Supervisor
	Publisher  *publisher.Publisher
	Checkpoint checkpoint.Store
}

// State is everything the loop carries between ticks.
type State struct {
	Sequence   uint64
	LastSample time.Duration
	Raw        int
	Quality    float64
	Class      quality.Classification
	Alert      alert.State
	Health     connectivity.Health
}

type Node struct {
	cfg    Config
	c      Components
	logger logger.Logger
	state  State

	// lastAlert is the most recent state worth persisting; the controller
	// reports Initializing until the first reading.
	lastAlert alert.State
}

func New(cfg Config, c Components, log logger.Logger) (*Node, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.Sampler == nil || c.Filter == nil || c.Alert == nil || c.Supervisor == nil || c.Publisher == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "missing node component")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return nil, err
	}

	return &Node{
		cfg:    cfg,
		c:      c,
		logger: log.With("node"),
	}, nil
}

// Start restores the reading counter, shows the banner and performs the
// initial blocking link bring-up. A link that stays down is retried by
// the loop.
func (n *Node) Start(ctx context.Context) {
	n.restore(ctx)
	n.c.Alert.Start()

	if !n.c.Supervisor.Establish(ctx) {
		n.logger.Warn().Msg("Starting without network link")
	}
}

// Run calls Tick on every TickInterval until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	n.Start(ctx)

	start := time.Now()
	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// time.Since reads the monotonic clock
			n.Tick(ctx, time.Since(start))
		}
	}
}

// Tick runs one loop iteration. The connectivity check and the sampling
// timer are both evaluated on every call.
func (n *Node) Tick(ctx context.Context, elapsed time.Duration) {
	n.state.Health = n.c.Supervisor.Check(ctx, elapsed)

	if elapsed-n.state.LastSample >= n.cfg.SampleInterval {
		n.state.LastSample = elapsed
		if n.sample(ctx, elapsed) {
			return
		}
	}

	n.c.Alert.Refresh(elapsed)
}

// Shutdown silences the outputs and stores the final checkpoint.
func (n *Node) Shutdown(ctx context.Context) {
	n.c.Alert.Shutdown()
	n.save(ctx)
}

func (n *Node) State() State {
	return n.state
}

// sample reports whether the alert controller was updated.
func (n *Node) sample(ctx context.Context, elapsed time.Duration) bool {
	s, err := n.c.Sampler.Sample(ctx)
	if err != nil {
		n.logger.Warn().Err(err).Msg("Sensor read failed, skipping sample")
		return false
	}

	n.c.Filter.Push(s.Quality)
	avg := n.c.Filter.Average()
	class := n.c.Thresholds.Classify(avg)
	t := n.c.Alert.Update(avg, class, elapsed)

	n.state.Sequence++
	n.state.Raw = s.Raw
	n.state.Quality = avg
	n.state.Class = class
	n.state.Alert = t.To

	n.c.Publisher.Publish(ctx, publisher.Reading{
		Quality:   avg,
		Class:     class,
		Sequence:  n.state.Sequence,
		Timestamp: elapsed.Milliseconds(),
	})
	n.save(ctx)
	n.logState(elapsed)

	return true
}

func (n *Node) logState(elapsed time.Duration) {
	n.logger.Info().
		Uint64("sequence", n.state.Sequence).
		Int64("timestamp", elapsed.Milliseconds()).
		Int("raw", n.state.Raw).
		Float64("quality", n.state.Quality).
		Str("classification", n.state.Class.String()).
		Str("alert", n.state.Alert.String()).
		Bool("link", n.state.Health.Link).
		Bool("session", n.state.Health.Session).
		Msg("")
}

func (n *Node) restore(ctx context.Context) {
	if n.c.Checkpoint == nil {
		return
	}

	saved, found, err := n.c.Checkpoint.Load(ctx)
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to load checkpoint")
		return
	}
	if !found {
		return
	}

	// The alert state stays Initializing until this process takes a reading.
	n.state.Sequence = saved.Sequence
	n.lastAlert = saved.Alert

	n.logger.Info().
		Uint64("sequence", saved.Sequence).
		Str("last_alert", saved.Alert.String()).
		Msg("Checkpoint restored")
}

func (n *Node) save(ctx context.Context) {
	if n.c.Checkpoint == nil {
		return
	}

	if s := n.c.Alert.State(); s != alert.Initializing {
		n.lastAlert = s
	}
	if n.lastAlert == alert.Initializing {
		// nothing has been read or restored yet
		return
	}

	if err := n.c.Checkpoint.Save(ctx, checkpoint.State{
		Sequence: n.state.Sequence,
		Alert:    n.lastAlert,
	}); err != nil {
		n.logger.Debug().Err(err).Msg("Failed to save checkpoint")
	}
}
