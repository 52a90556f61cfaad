package alert

import "time"

// Outputs drives the local alert hardware. Writes carry no feedback.
type Outputs interface {
	SetBuzzer(on bool)
	SetIndicator(on bool)
	WriteLines(line1, line2 string)
}

// State is the alert level held across ticks.
type State int

const (
	Initializing State = iota
	Normal
	Attention
	Critical
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "INICIALIZANDO"
	case Normal:
		return "NORMAL"
	case Attention:
		return "ATENCAO"
	case Critical:
		return "CRITICO"
	default:
		return "DESCONHECIDO"
	}
}

// Transition describes the outcome of one Update.
type Transition struct {
	From    State
	To      State
	Changed bool
	Quality float64
}

// Notifier receives exactly one call per state entry.
type Notifier func(Transition)

// Levels are the smoothed-quality bounds of the alert states. They are
// configured separately from the classifier bands.
type Levels struct {
	Critical  float64 `mapstructure:"critical"`
	Attention float64 `mapstructure:"attention"`
}

type Config struct {
	Levels       Levels        `mapstructure:",squash"`
	BlinkPeriod  time.Duration `mapstructure:"blink_period"`
	DisplayWidth int           `mapstructure:"display_width"`
}
