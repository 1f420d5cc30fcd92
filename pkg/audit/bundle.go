package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/munin/pkg/artifacts"
	"github.com/Mindburn-Labs/munin/pkg/canonicalize"
)

// BundleVersion is stamped on exported bundles.
const BundleVersion = "1.0.0"

var (
	// ErrEmptyBundle is returned when no entry matches an export filter.
	ErrEmptyBundle = errors.New("no entries match filter")
	// ErrBundleTampered is returned when a bundle fails verification.
	ErrBundleTampered = errors.New("audit bundle verification failed")
)

// Bundle is a self-verifying export of ledger entries in sequence order.
type Bundle struct {
	BundleID   string    `json:"bundleId"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
	Filter     Filter    `json:"filter"`
	StartSeq   uint64    `json:"startSequence"`
	EndSeq     uint64    `json:"endSequence"`
	EntryCount int       `json:"entryCount"`
	Entries    []Entry   `json:"entries"`
	ChainHead  string    `json:"chainHead"`
	BundleHash string    `json:"bundleHash"`
}

// ExportBundle exports matching entries in ascending sequence order.
// Filter.Limit keeps the newest entries.
func (l *Ledger) ExportBundle(f Filter) (*Bundle, error) {
	entries := l.Query(f)
	if len(entries) == 0 {
		return nil, ErrEmptyBundle
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SequenceNumber < entries[j].SequenceNumber })

	b := &Bundle{
		BundleID:   uuid.NewString(),
		Version:    BundleVersion,
		CreatedAt:  l.clock().UTC(),
		Filter:     f,
		StartSeq:   entries[0].SequenceNumber,
		EndSeq:     entries[len(entries)-1].SequenceNumber,
		EntryCount: len(entries),
		Entries:    entries,
		ChainHead:  l.Head(),
	}
	h, err := canonicalize.CanonicalHash(b.Entries)
	if err != nil {
		return nil, fmt.Errorf("bundle hash: %w", err)
	}
	b.BundleHash = h
	return b, nil
}

// VerifyBundle checks the bundle hash, every entry's own hashes, and the
// linkage between entries with consecutive sequence numbers.
func VerifyBundle(b *Bundle) error {
	if b == nil || len(b.Entries) == 0 {
		return fmt.Errorf("%w: bundle is empty", ErrBundleTampered)
	}
	if b.EntryCount != len(b.Entries) {
		return fmt.Errorf("%w: entry count %d, bundle holds %d", ErrBundleTampered, b.EntryCount, len(b.Entries))
	}
	h, err := canonicalize.CanonicalHash(b.Entries)
	if err != nil {
		return fmt.Errorf("bundle hash: %w", err)
	}
	if h != b.BundleHash {
		return fmt.Errorf("%w: bundle hash mismatch", ErrBundleTampered)
	}
	for i, e := range b.Entries {
		eh, err := ComputeEntryHash(e)
		if err != nil {
			return fmt.Errorf("entry hash: %w", err)
		}
		if eh != e.EntryHash || ComputeReceiptHash(e.PreviousHash, e.EntryHash) != e.ReceiptHash {
			return fmt.Errorf("%w: sequence %d hash mismatch", ErrBundleTampered, e.SequenceNumber)
		}
		if i == 0 {
			continue
		}
		prev := b.Entries[i-1]
		if e.SequenceNumber <= prev.SequenceNumber {
			return fmt.Errorf("%w: sequence %d out of order", ErrBundleTampered, e.SequenceNumber)
		}
		if e.SequenceNumber == prev.SequenceNumber+1 && e.PreviousHash != prev.ReceiptHash {
			return fmt.Errorf("%w: chain broken at sequence %d", ErrBundleTampered, e.SequenceNumber)
		}
	}
	return nil
}

// Archive exports the full ledger as a bundle and stores it in store,
// returning the bundle's content address.
func (l *Ledger) Archive(ctx context.Context, store artifacts.Store) (string, error) {
	b, err := l.ExportBundle(Filter{})
	if err != nil {
		return "", err
	}
	ref, err := artifacts.PutJSON(ctx, store, b)
	if err != nil {
		return "", fmt.Errorf("archive bundle: %w", err)
	}
	l.logger.Info("audit ledger archived", "ref", ref, "entries", b.EntryCount)
	return ref, nil
}
