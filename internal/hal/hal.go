// Package hal provides the boards the node can run on: a simulator and a
// microcontroller bridge on a serial port.
package hal

import (
	"io"

	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
)

const (
	DriverSim    = "sim"
	DriverSerial = "serial"
)

func DefaultConfig() Config {
	return Config{
		Driver:  DriverSim,
		Port:    "/dev/ttyUSB0",
		Baud:    DefaultBaudRate,
		Pattern: PatternClean,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch c.Driver {
	case DriverSim:
		if !validPattern(c.Pattern) {
			return errFactory.WithData(ErrUnknownPattern, c.Pattern)
		}
	case DriverSerial:
		if c.Port == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "serial port is required")
		}
	default:
		return errFactory.WithData(ErrUnknownDriver, c.Driver)
	}

	return nil
}

// Open returns the board selected by cfg.Driver. The simulator renders its
// display frames to display, which must not be the log output.
func Open(cfg Config, display io.Writer, log logger.Logger) (Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Driver == DriverSerial {
		s, err := OpenSerial(cfg.Port, cfg.Baud, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	sim, err := NewSim(cfg.Pattern, display, log)
	if err != nil {
		return nil, err
	}

	return sim, nil
}
