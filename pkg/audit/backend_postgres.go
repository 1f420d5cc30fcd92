package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresBackend stores the ledger in PostgreSQL.
type PostgresBackend struct {
	sqlBackend
}

// OpenPostgresBackend connects with dsn and creates the table.
func OpenPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	b, err := NewPostgresBackend(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackend wraps an open database handle.
func NewPostgresBackend(ctx context.Context, db *sql.DB) (*PostgresBackend, error) {
	b := &PostgresBackend{sqlBackend{db: db, ph: func(n int) string { return fmt.Sprintf("$%d", n) }}}
	if err := b.migrate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}
