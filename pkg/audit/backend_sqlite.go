package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores the ledger in a SQLite database.
type SQLiteBackend struct {
	sqlBackend
}

// OpenSQLiteBackend opens the database file at path and creates the table.
func OpenSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the ledger serializes appends anyway.
	db.SetMaxOpenConns(1)
	b, err := NewSQLiteBackend(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLiteBackend wraps an open database handle.
func NewSQLiteBackend(ctx context.Context, db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{sqlBackend{db: db, ph: func(int) string { return "?" }}}
	if err := b.migrate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}
