// Package checkpoint persists the node counters in a local SQLite file.
package checkpoint

import (
	"context"

	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
)

// No-op implementation
type noopStore struct{}

// New returns a SQLite backed store, or a no-op store when the checkpoint
// is disabled.
func New(cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	log = log.With("checkpoint")

	if !cfg.Enabled {
		log.Debug().Msg("Checkpoint disabled, using no-op store")
		return &noopStore{}, nil
	}

	repo, err := newRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to open checkpoint repository")
		return nil, err
	}

	return repo, nil
}

func (*noopStore) Load(context.Context) (State, bool, error) {
	return State{}, false, nil
}

func (*noopStore) Save(context.Context, State) error {
	return nil
}

func (*noopStore) Close() error {
	return nil
}
