package audit

import (
	"context"
	"fmt"
)

// BackendConfig is the ledger section of the service configuration.
type BackendConfig struct {
	// Backend is one of memory, file, sqlite or postgres.
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
}

// OpenBackend creates the configured backend.
func OpenBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("ledger.path is required for the file backend")
		}
		return OpenFileBackend(cfg.Path)
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("ledger.path is required for the sqlite backend")
		}
		return OpenSQLiteBackend(ctx, cfg.Path)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("ledger.dsn is required for the postgres backend")
		}
		return OpenPostgresBackend(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", cfg.Backend)
	}
}
