package checkpoint

import "codeberg.org/mutker/airnode/internal/errors"

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/airnode/checkpoint.db"
)

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

func DefaultConfig() Config {
	return Config{
		Enabled: false,
		DBPath:  defaultDBPath,
	}
}

func (c Config) Validate() error {
	// Only validate DBPath if the checkpoint is enabled
	if c.Enabled && c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}

	return nil
}
