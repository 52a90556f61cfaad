package hal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate matches the bridge firmware.
	DefaultBaudRate = 115200

	readTimeout = 500 * time.Millisecond

	// maxSkippedLines bounds how many unrelated lines a read tolerates
	// before giving up on a reply.
	maxSkippedLines = 8

	maxLineLength = 128
)

// inputFlusher is implemented by serial.Port.
type inputFlusher interface {
	ResetInputBuffer() error
}

// Serial talks to a microcontroller bridge with a line protocol:
//
//	host -> board  R?            request one conversion
//	board -> host  A:<raw>       conversion result
//	host -> board  B:0|1, L:0|1  buzzer, indicator
//	host -> board  D1:<text>, D2:<text>
//
// Output commands are sent only when the value changes.
type Serial struct {
	port    io.ReadWriteCloser
	logger  logger.Logger
	pending []byte
	buf     [64]byte

	mu        sync.Mutex
	buzzer    *bool
	indicator *bool
	lines     [2]string
	written   bool
}

// OpenSerial opens the named port.
func OpenSerial(name string, baud int, log logger.Logger) (*Serial, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.New().Wrap(ErrOpenFailed, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, errors.New().Wrap(ErrOpenFailed, err)
	}

	s := NewSerial(port, log)
	s.logger.Info().Str("port", name).Int("baud", baud).Msg("Serial bridge opened")

	return s, nil
}

// NewSerial wraps an already open stream.
func NewSerial(port io.ReadWriteCloser, log logger.Logger) *Serial {
	return &Serial{
		port:   port,
		logger: log.With("hal"),
	}
}

// ReadRaw requests a conversion and waits for the A: reply. The whole
// exchange is bounded by readTimeout, and a port read that returns no
// data counts as no reply.
func (s *Serial) ReadRaw(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()

	s.flushInput()
	if err := s.send("R?"); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(readTimeout)
	for i := 0; i < maxSkippedLines; i++ {
		line, err := s.readLine(ctx, deadline)
		if err != nil {
			return 0, err
		}

		value, ok := strings.CutPrefix(line, "A:")
		if !ok {
			s.logger.Debug().Str("line", line).Msg("Skipping bridge line")
			continue
		}

		raw, err := strconv.Atoi(value)
		if err != nil {
			return 0, errFactory.Wrap(ErrProtocol, err)
		}

		return raw, nil
	}

	return 0, errFactory.WithMessage(ErrProtocol, "no conversion reply")
}

// flushInput drops anything the board sent before the request, so a late
// reply to an earlier R? is never taken for the current one.
func (s *Serial) flushInput() {
	s.pending = s.pending[:0]

	if f, ok := s.port.(inputFlusher); ok {
		if err := f.ResetInputBuffer(); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to reset bridge input")
		}
	}
}

func (s *Serial) readLine(ctx context.Context, deadline time.Time) (string, error) {
	errFactory := errors.New()

	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(s.pending[:i]))
			s.pending = s.pending[i+1:]
			return line, nil
		}
		if len(s.pending) > maxLineLength {
			return "", errFactory.WithMessage(ErrProtocol, "bridge line too long")
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !time.Now().Before(deadline) {
			return "", errFactory.WithMessage(ErrProtocol, "conversion reply timed out")
		}

		n, err := s.port.Read(s.buf[:])
		s.pending = append(s.pending, s.buf[:n]...)
		if n > 0 {
			continue
		}
		if err != nil {
			return "", errFactory.Wrap(ErrProtocol, err)
		}

		// serial.Port returns (0, nil) once its read timeout expires.
		return "", errFactory.WithMessage(ErrProtocol, "no conversion reply")
	}
}

func (s *Serial) SetBuzzer(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setFlag(&s.buzzer, on, "B")
}

func (s *Serial) SetIndicator(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setFlag(&s.indicator, on, "L")
}

func (s *Serial) WriteLines(line1, line2 string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.written && s.lines == [2]string{line1, line2} {
		return
	}

	if s.lines[0] != line1 || !s.written {
		if s.send("D1:"+line1) != nil {
			return
		}
	}
	if s.lines[1] != line2 || !s.written {
		if s.send("D2:"+line2) != nil {
			return
		}
	}
	s.lines = [2]string{line1, line2}
	s.written = true
}

func (s *Serial) Close() error {
	return s.port.Close()
}

func (s *Serial) setFlag(current **bool, on bool, cmd string) {
	if *current != nil && **current == on {
		return
	}

	value := "0"
	if on {
		value = "1"
	}
	if s.send(cmd+":"+value) != nil {
		return
	}
	*current = &on
}

func (s *Serial) send(cmd string) error {
	if _, err := fmt.Fprintf(s.port, "%s\n", cmd); err != nil {
		wrapped := errors.New().Wrap(ErrWriteFailed, err)
		s.logger.Debug().Err(wrapped).Str("command", cmd).Msg("Bridge write failed")
		return wrapped
	}

	return nil
}

var _ Board = (*Serial)(nil)
