package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/munin/pkg/canonicalize"
)

var (
	// ErrPersist is returned when the backend could not durably record an
	// entry. The ledger is unchanged when it is returned.
	ErrPersist = errors.New("audit persistence failed")
	// ErrInvalidEntry is returned for entries missing required fields.
	ErrInvalidEntry = errors.New("invalid audit entry")
)

// Backend persists entries. Append must be durable before it returns.
type Backend interface {
	Load(ctx context.Context) ([]Entry, error)
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Ledger is the in-memory view of a backend's entries. Writes are serialized;
// reads return copies.
type Ledger struct {
	mu      sync.RWMutex
	backend Backend
	entries []Entry
	head    string
	clock   func() time.Time
	logger  *slog.Logger
}

// Open replays the backend's entries in stored order. It does not verify
// the chain; call VerifyChain for that.
func Open(ctx context.Context, backend Backend) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("audit ledger requires a backend")
	}
	entries, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}
	l := &Ledger{
		backend: backend,
		entries: entries,
		head:    canonicalize.RootHash,
		clock:   time.Now,
		logger:  slog.Default().With("component", "audit"),
	}
	if n := len(entries); n > 0 {
		l.head = entries[n-1].ReceiptHash
	}
	l.logger.Debug("audit ledger opened", "entries", len(entries))
	return l, nil
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithLogger sets the ledger logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger
	return l
}

// Append records one event. The entry is persisted before the ledger's
// sequence and head advance.
func (l *Ledger) Append(ctx context.Context, action Action, actor, packetID string, metadata map[string]string) (Entry, error) {
	if action == "" || actor == "" {
		return Entry{}, fmt.Errorf("%w: action and actor are required", ErrInvalidEntry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var seq uint64 = 1
	if n := len(l.entries); n > 0 {
		seq = l.entries[n-1].SequenceNumber + 1
	}

	e := Entry{
		SequenceNumber: seq,
		// Microsecond precision survives every backend round trip.
		Timestamp:    l.clock().UTC().Truncate(time.Microsecond),
		Action:       action,
		Actor:        actor,
		PacketID:     packetID,
		PreviousHash: l.head,
	}
	if len(metadata) > 0 {
		e.Metadata = cloneMeta(metadata)
	}

	eh, err := ComputeEntryHash(e)
	if err != nil {
		return Entry{}, fmt.Errorf("compute entry hash: %w", err)
	}
	e.EntryHash = eh
	e.ReceiptHash = ComputeReceiptHash(e.PreviousHash, eh)

	if err := l.backend.Append(ctx, e); err != nil {
		l.logger.Error("audit append failed", "action", action, "packet_id", packetID, "error", err)
		return Entry{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	l.entries = append(l.entries, e)
	l.head = e.ReceiptHash
	return e.Clone(), nil
}

// Head returns the receipt hash of the last entry, or the root sentinel.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close closes the backend.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

// Filter selects entries for Query and ExportBundle.
type Filter struct {
	PacketID string `json:"packetId,omitempty"`
	Action   Action `json:"action,omitempty"`
	// Limit caps the number of results; zero means no limit.
	Limit int `json:"limit,omitempty"`
}

func (f Filter) matches(e Entry) bool {
	if f.PacketID != "" && e.PacketID != f.PacketID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	return true
}

// Query returns matching entries, newest first.
func (l *Ledger) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if !f.matches(e) {
			continue
		}
		out = append(out, e.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}
