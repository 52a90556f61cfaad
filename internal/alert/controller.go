// Package alert holds the three-level alert state machine and the output
// drive that follows it.
package alert

import (
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
	"codeberg.org/mutker/airnode/internal/quality"
)

const (
	defaultCriticalLevel  = 30
	defaultAttentionLevel = 50
	defaultBlinkPeriod    = 500 * time.Millisecond
	defaultDisplayWidth   = 16
)

func DefaultConfig() Config {
	return Config{
		Levels: Levels{
			Critical:  defaultCriticalLevel,
			Attention: defaultAttentionLevel,
		},
		BlinkPeriod:  defaultBlinkPeriod,
		DisplayWidth: defaultDisplayWidth,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Levels.Critical <= 0 || c.Levels.Critical >= c.Levels.Attention || c.Levels.Attention > 100 {
		return errFactory.WithData(ErrInvalidLevels, c.Levels)
	}
	if c.BlinkPeriod <= 0 {
		return errFactory.WithData(ErrInvalidBlink, c.BlinkPeriod)
	}
	if c.DisplayWidth <= 0 {
		return errFactory.WithData(ErrInvalidWidth, c.DisplayWidth)
	}

	return nil
}

// Target returns the state a smoothed quality value maps to.
func (l Levels) Target(q float64) State {
	switch {
	case q < l.Critical:
		return Critical
	case q < l.Attention:
		return Attention
	default:
		return Normal
	}
}

type Controller struct {
	cfg    Config
	out    Outputs
	notify Notifier
	logger logger.Logger
	state  State
}

type Option func(*Controller)

// WithNotifier replaces the default log-line notification.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notify = n
	}
}

func NewController(cfg Config, out Outputs, log logger.Logger, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:    cfg,
		out:    out,
		logger: log.With("alert"),
		state:  Initializing,
	}
	c.notify = c.logTransition
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Start shows the startup banner. The controller stays Initializing until
// the first Update.
func (c *Controller) Start() {
	c.out.SetBuzzer(false)
	c.out.SetIndicator(false)
	c.writeLines("Monitor de Ar", "Iniciando...")
}

func (c *Controller) State() State {
	return c.state
}

// Update moves the machine to the state matching q, drives the outputs for
// that state and refreshes the display. The notifier fires only when the
// state changes.
func (c *Controller) Update(q float64, class quality.Classification, elapsed time.Duration) Transition {
	t := Transition{
		From:    c.state,
		To:      c.cfg.Levels.Target(q),
		Quality: q,
	}
	t.Changed = t.From != t.To
	c.state = t.To

	if t.Changed {
		c.notify(t)
	}

	c.Refresh(elapsed)
	c.writeLines(fmt.Sprintf("Qualidade:%5.1f%%", q), class.String())

	return t
}

// Refresh drives the level-triggered outputs for the current state. The
// scheduler calls it on every loop iteration so the attention blink keeps
// its period between samples.
func (c *Controller) Refresh(elapsed time.Duration) {
	switch c.state {
	case Critical:
		c.out.SetBuzzer(true)
		c.out.SetIndicator(true)
	case Attention:
		c.out.SetBuzzer(false)
		c.out.SetIndicator(blinkPhase(elapsed, c.cfg.BlinkPeriod))
	default:
		c.out.SetBuzzer(false)
		c.out.SetIndicator(false)
	}
}

// Shutdown silences the outputs.
func (c *Controller) Shutdown() {
	c.out.SetBuzzer(false)
	c.out.SetIndicator(false)
	c.writeLines("Monitor de Ar", "Desligado")
}

func (c *Controller) logTransition(t Transition) {
	ev := c.logger.Info()
	if t.To == Critical {
		ev = c.logger.Warn()
	}
	ev.Str("from", t.From.String()).
		Str("to", t.To.String()).
		Float64("quality", t.Quality).
		Msg("Alert state changed")
}

func (c *Controller) writeLines(line1, line2 string) {
	c.out.WriteLines(FitLine(line1, c.cfg.DisplayWidth), FitLine(line2, c.cfg.DisplayWidth))
}

// blinkPhase toggles every period of elapsed monotonic time.
func blinkPhase(elapsed, period time.Duration) bool {
	if elapsed < 0 {
		elapsed = 0
	}

	return (elapsed/period)%2 == 0
}

// FitLine pads or truncates s to exactly width runes.
func FitLine(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return string(r[:width])
	}

	return s + strings.Repeat(" ", width-len(r))
}
