package hal

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
	"codeberg.org/mutker/airnode/internal/sensor"
)

const (
	PatternClean = "clean"
	PatternDirty = "dirty"
	PatternRamp  = "ramp"
	PatternNoisy = "noisy"

	cleanRaw  = 400
	dirtyRaw  = 3600
	noisyBase = 1600
	noisySpan = 900
	rampStep  = 160
)

func validPattern(p string) bool {
	switch p {
	case PatternClean, PatternDirty, PatternRamp, PatternNoisy:
		return true
	}

	return false
}

// Sim generates sensor readings from a fixed pattern and mirrors the
// outputs to a writer. Output changes are logged at debug level.
type Sim struct {
	pattern string
	display io.Writer
	logger  logger.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	step      int
	buzzer    bool
	indicator bool
	lines     [2]string
}

func NewSim(pattern string, display io.Writer, log logger.Logger) (*Sim, error) {
	if !validPattern(pattern) {
		return nil, errors.New().WithData(ErrUnknownPattern, pattern)
	}

	return &Sim{
		pattern: pattern,
		display: display,
		logger:  log.With("hal"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *Sim) ReadRaw(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() { s.step++ }()

	switch s.pattern {
	case PatternDirty:
		return dirtyRaw, nil
	case PatternRamp:
		return (s.step * rampStep) % (sensor.DefaultRawMax + 1), nil
	case PatternNoisy:
		return noisyBase + s.rng.Intn(2*noisySpan+1) - noisySpan, nil
	default:
		return cleanRaw, nil
	}
}

func (s *Sim) SetBuzzer(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buzzer != on {
		s.buzzer = on
		s.logger.Debug().Bool("on", on).Msg("Buzzer")
	}
}

func (s *Sim) SetIndicator(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.indicator = on
}

// WriteLines prints the display only when its content changes.
func (s *Sim) WriteLines(line1, line2 string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lines == [2]string{line1, line2} {
		return
	}
	s.lines = [2]string{line1, line2}

	if s.display != nil {
		fmt.Fprintf(s.display, "|%s|\n|%s|\n", line1, line2)
	}
}

// Outputs returns the last driven output state.
func (s *Sim) Outputs() (buzzer, indicator bool, lines [2]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buzzer, s.indicator, s.lines
}

func (s *Sim) Close() error {
	return nil
}

var _ Board = (*Sim)(nil)
