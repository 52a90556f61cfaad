package hal

import (
	"io"

	"codeberg.org/mutker/airnode/internal/alert"
	"codeberg.org/mutker/airnode/internal/sensor"
)

// Board is the node hardware: the gas sensor channel plus the alert
// outputs. The status indicator doubles as the connectivity indicator.
type Board interface {
	sensor.ADC
	alert.Outputs
	io.Closer
}

type Config struct {
	Driver  string `mapstructure:"driver"`
	Port    string `mapstructure:"port"`
	Baud    int    `mapstructure:"baud"`
	Pattern string `mapstructure:"pattern"`
}
