package checkpoint

import "codeberg.org/mutker/airnode/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("checkpoint_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("checkpoint_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("checkpoint_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("checkpoint_schema_migration_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrLoadFailed   = errors.ErrorCode("checkpoint_load_failed")
	ErrSaveFailed   = errors.ErrorCode("checkpoint_save_failed")
)
