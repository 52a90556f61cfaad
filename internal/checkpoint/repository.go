package checkpoint

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/airnode/internal/alert"
	"codeberg.org/mutker/airnode/internal/errors"
	"codeberg.org/mutker/airnode/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
	mu     sync.Mutex
}

func newRepository(cfg Config, log logger.Logger) (*repository, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal=WAL")
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// a single connection serializes writers on the one row
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Checkpoint repository initialized")

	return &repository{db: db, logger: log, cfg: cfg}, nil
}

func (r *repository) Load(ctx context.Context) (State, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		seq     int64
		state   int
		updated int64
	)
	err := r.db.QueryRowContext(ctx, selectCheckpointSQL).Scan(&seq, &state, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, errors.New().Wrap(ErrLoadFailed, err)
	}

	if s := alert.State(state); s < alert.Normal || s > alert.Critical {
		r.logger.Warn().Int("alert_state", state).Msg("Ignoring checkpoint with unknown alert state")
		return State{}, false, nil
	}

	return State{
		Sequence:  uint64(seq),
		Alert:     alert.State(state),
		UpdatedAt: time.Unix(updated, 0),
	}, true, nil
}

func (r *repository) Save(ctx context.Context, s State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	if _, err := r.db.ExecContext(ctx, upsertCheckpointSQL,
		int64(s.Sequence), int(s.Alert), updated.Unix()); err != nil {
		return errors.New().Wrap(ErrSaveFailed, err)
	}

	return nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	r.logger.Info().Msg("Checkpoint repository closed")

	return nil
}
