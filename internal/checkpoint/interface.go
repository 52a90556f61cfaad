package checkpoint

import (
	"context"
	"time"

	"codeberg.org/mutker/airnode/internal/alert"
)

// Store keeps the last reading sequence and alert state across restarts.
// It holds a single row, not a history.
type Store interface {
	Load(ctx context.Context) (State, bool, error)
	Save(ctx context.Context, state State) error
	Close() error
}

type State struct {
	Sequence  uint64
	Alert     alert.State
	UpdatedAt time.Time
}
