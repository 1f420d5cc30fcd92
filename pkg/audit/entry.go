// Package audit is the append-only, hash-chained ledger of packet lifecycle
// events.
//
// Every entry commits to its predecessor through previousHash and
// receiptHash. Editing, reordering or removing any persisted entry is
// detected by VerifyChain.
package audit

import (
	"time"

	"github.com/Mindburn-Labs/munin/pkg/canonicalize"
)

// Action is a lifecycle event kind.
type Action string

const (
	ActionCreate    Action = "create"
	ActionSign      Action = "sign"
	ActionAuthorize Action = "authorize"
	ActionReject    Action = "reject"
	ActionExecute   Action = "execute"
)

// Entry is one persisted ledger record.
type Entry struct {
	SequenceNumber uint64            `json:"sequenceNumber"`
	Timestamp      time.Time         `json:"timestamp"`
	Action         Action            `json:"action"`
	Actor          string            `json:"actor"`
	PacketID       string            `json:"packetId"`
	PreviousHash   string            `json:"previousHash"`
	EntryHash      string            `json:"entryHash"`
	ReceiptHash    string            `json:"receiptHash"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	e.Metadata = cloneMeta(e.Metadata)
	return e
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// hashable is the canonical form covered by entryHash.
type hashable struct {
	Timestamp      string            `json:"timestamp"`
	Action         Action            `json:"action"`
	Actor          string            `json:"actor"`
	PacketID       string            `json:"packetId"`
	PreviousHash   string            `json:"previousHash"`
	SequenceNumber uint64            `json:"sequenceNumber"`
	Metadata       map[string]string `json:"metadata"`
}

// ComputeEntryHash recomputes the entry hash of e from its content fields.
func ComputeEntryHash(e Entry) (string, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return canonicalize.CanonicalHash(hashable{
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:         e.Action,
		Actor:          e.Actor,
		PacketID:       e.PacketID,
		PreviousHash:   e.PreviousHash,
		SequenceNumber: e.SequenceNumber,
		Metadata:       meta,
	})
}

// ComputeReceiptHash links entryHash to its predecessor. The first entry,
// whose previous hash is the root sentinel, hashes entryHash alone.
func ComputeReceiptHash(previousHash, entryHash string) string {
	if previousHash == canonicalize.RootHash || previousHash == "" {
		return canonicalize.Chain("", entryHash)
	}
	return canonicalize.Chain(previousHash, entryHash)
}
