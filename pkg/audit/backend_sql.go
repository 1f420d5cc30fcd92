package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// placeholder renders the n-th (1-based) bind parameter of a dialect.
type placeholder func(n int) string

// sqlBackend stores entries in an audit_entries table. The sequence number
// is the primary key, so a second writer can never fork the chain.
type sqlBackend struct {
	db *sql.DB
	ph placeholder
}

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_entries (
	sequence_number BIGINT PRIMARY KEY,
	ts TEXT NOT NULL,
	action TEXT NOT NULL,
	actor TEXT NOT NULL,
	packet_id TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL,
	receipt_hash TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
)`

func (s *sqlBackend) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createAuditTable); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

func (s *sqlBackend) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_number, ts, action, actor, packet_id, previous_hash, entry_hash, receipt_hash, metadata
		FROM audit_entries
		ORDER BY sequence_number`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			ts       string
			action   string
			metaJSON sql.NullString
		)
		if err := rows.Scan(&e.SequenceNumber, &ts, &action, &e.Actor, &e.PacketID, &e.PreviousHash, &e.EntryHash, &e.ReceiptHash, &metaJSON); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: bad timestamp: %w", e.SequenceNumber, err)
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "{}" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("sequence %d: corrupt metadata: %w", e.SequenceNumber, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlBackend) Append(ctx context.Context, e Entry) error {
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}

	params := make([]string, 9)
	for i := range params {
		params[i] = s.ph(i + 1)
	}
	query := `INSERT INTO audit_entries
		(sequence_number, ts, action, actor, packet_id, previous_hash, entry_hash, receipt_hash, metadata)
		VALUES (` + strings.Join(params, ", ") + `)`

	_, err := s.db.ExecContext(ctx, query,
		e.SequenceNumber, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Action), e.Actor, e.PacketID,
		e.PreviousHash, e.EntryHash, e.ReceiptHash, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *sqlBackend) Close() error {
	return s.db.Close()
}
