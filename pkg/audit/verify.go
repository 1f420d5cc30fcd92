package audit

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/munin/pkg/canonicalize"
)

// VerificationResult reports the integrity of the chain. When Valid is false
// FirstInvalidSequence is the earliest broken entry and every later entry is
// listed in Errors as invalidated.
type VerificationResult struct {
	Valid                bool     `json:"valid"`
	EntriesChecked       int      `json:"entriesChecked"`
	FirstInvalidSequence uint64   `json:"firstInvalidSequence,omitempty"`
	Errors               []string `json:"errors,omitempty"`
}

// VerifyChain recomputes every hash and checks linkage and sequence
// continuity. It takes only a read lock and never modifies the ledger.
func (l *Ledger) VerifyChain(ctx context.Context) (VerificationResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	res := verifyEntries(l.entries, canonicalize.RootHash, 1)
	if !res.Valid {
		l.logger.Error("audit chain verification failed",
			"first_invalid_sequence", res.FirstInvalidSequence,
			"errors", len(res.Errors),
		)
	}
	return res, ctx.Err()
}

// verifyEntries checks entries as a contiguous chain starting after prev at
// sequence firstSeq.
func verifyEntries(entries []Entry, prev string, firstSeq uint64) VerificationResult {
	res := VerificationResult{Valid: true, Errors: []string{}}
	expectedSeq := firstSeq

	for _, e := range entries {
		res.EntriesChecked++
		if !res.Valid {
			res.Errors = append(res.Errors, fmt.Sprintf("sequence %d: suffix invalidated", e.SequenceNumber))
			continue
		}
		if msg := checkEntry(e, prev, expectedSeq); msg != "" {
			res.Valid = false
			res.FirstInvalidSequence = e.SequenceNumber
			if res.FirstInvalidSequence == 0 {
				res.FirstInvalidSequence = expectedSeq
			}
			res.Errors = append(res.Errors, fmt.Sprintf("sequence %d: %s", e.SequenceNumber, msg))
			continue
		}
		prev = e.ReceiptHash
		expectedSeq++
	}
	return res
}

func checkEntry(e Entry, prev string, expectedSeq uint64) string {
	if e.SequenceNumber != expectedSeq {
		return fmt.Sprintf("sequence gap, expected %d", expectedSeq)
	}
	if e.PreviousHash != prev {
		return fmt.Sprintf("previous hash %s does not match %s", e.PreviousHash, prev)
	}
	eh, err := ComputeEntryHash(e)
	if err != nil {
		return fmt.Sprintf("entry hash: %v", err)
	}
	if eh != e.EntryHash {
		return "entry hash mismatch"
	}
	if rh := ComputeReceiptHash(e.PreviousHash, e.EntryHash); rh != e.ReceiptHash {
		return "receipt hash mismatch"
	}
	return ""
}
