package handshake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/munin/pkg/canonicalize"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

var (
	// ErrAlreadySealed is returned when sealing a packet twice.
	ErrAlreadySealed = errors.New("packet already sealed")
	// ErrNotSealed is returned when verifying a packet without a merkle block.
	ErrNotSealed = errors.New("packet not sealed")
	// ErrChainMismatch is returned when a recomputed hash differs.
	ErrChainMismatch = errors.New("packet chain mismatch")
)

// sealedView is the part of a packet covered by its hash. Approvals, status,
// requirement and rejection reason change during authorization and are
// covered by the audit ledger instead.
type sealedView struct {
	ID               string                `json:"id"`
	Version          string                `json:"version"`
	CreatedAt        time.Time             `json:"createdTs"`
	IncidentID       string                `json:"incidentId"`
	IncidentType     string                `json:"incidentType"`
	ActionType       string                `json:"actionType"`
	Scope            contracts.Scope       `json:"scope"`
	SituationSummary string                `json:"situationSummary"`
	ProposedAction   string                `json:"proposedAction"`
	RegulatoryBasis  string                `json:"regulatoryBasis"`
	Uncertainty      contracts.Uncertainty `json:"uncertainty"`
	EvidenceRefs     []string              `json:"evidenceRefs"`
	Provenance       contracts.Provenance  `json:"provenance"`
}

// PacketHash returns the canonical hash of the sealed fields of p.
func PacketHash(p *contracts.HandshakePacket) (string, error) {
	return canonicalize.CanonicalHash(sealedView{
		ID:               p.ID,
		Version:          p.Version,
		CreatedAt:        p.CreatedAt.UTC(),
		IncidentID:       p.IncidentID,
		IncidentType:     p.IncidentType,
		ActionType:       p.ActionType,
		Scope:            p.Scope,
		SituationSummary: p.SituationSummary,
		ProposedAction:   p.ProposedAction,
		RegulatoryBasis:  p.RegulatoryBasis,
		Uncertainty:      p.Uncertainty,
		EvidenceRefs:     p.EvidenceRefs,
		Provenance:       p.Provenance,
	})
}

// Chain links sealed packets. It is independent of the audit ledger: the
// ledger records lifecycle events, the chain pins packet contents.
type Chain struct {
	mu   sync.Mutex
	head string
}

// NewChain starts a chain after head. An empty head starts from genesis.
func NewChain(head string) *Chain {
	return &Chain{head: head}
}

// Head returns the receipt hash of the last sealed packet.
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Seal stamps p with its merkle block and advances the chain.
func (c *Chain) Seal(p *contracts.HandshakePacket) error {
	if err := c.Link(p); err != nil {
		return err
	}
	return c.Commit(p)
}

// Link stamps p with its merkle block after the current head without
// advancing the chain. Commit advances it once p is durably recorded; a
// linked packet that is never committed leaves the chain untouched.
func (c *Chain) Link(p *contracts.HandshakePacket) error {
	if p.Merkle != nil {
		return fmt.Errorf("%w: %s", ErrAlreadySealed, p.ID)
	}
	ph, err := PacketHash(p)
	if err != nil {
		return fmt.Errorf("packet hash: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.head
	if prev == "" {
		prev = canonicalize.RootHash
	}
	p.Merkle = &contracts.MerkleLink{
		PreviousHash: prev,
		PacketHash:   ph,
		ReceiptHash:  canonicalize.Chain(prev, ph),
	}
	return nil
}

// Commit advances the chain to the receipt of p. p must have been linked
// after the current head.
func (c *Chain) Commit(p *contracts.HandshakePacket) error {
	if p.Merkle == nil {
		return fmt.Errorf("%w: %s", ErrNotSealed, p.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.head
	if prev == "" {
		prev = canonicalize.RootHash
	}
	if p.Merkle.PreviousHash != prev {
		return fmt.Errorf("%w: %s links to %s, head is %s", ErrChainMismatch, p.ID, p.Merkle.PreviousHash, prev)
	}
	c.head = p.Merkle.ReceiptHash
	return nil
}

// VerifyPacket recomputes the merkle block of p. previousReceipt is the
// receipt of the packet sealed before p, or empty for the first packet.
func VerifyPacket(p *contracts.HandshakePacket, previousReceipt string) error {
	if p.Merkle == nil {
		return fmt.Errorf("%w: %s", ErrNotSealed, p.ID)
	}
	prev := previousReceipt
	if prev == "" {
		prev = canonicalize.RootHash
	}
	if p.Merkle.PreviousHash != prev {
		return fmt.Errorf("%w: previous hash %s, expected %s", ErrChainMismatch, p.Merkle.PreviousHash, prev)
	}
	ph, err := PacketHash(p)
	if err != nil {
		return fmt.Errorf("packet hash: %w", err)
	}
	if ph != p.Merkle.PacketHash {
		return fmt.Errorf("%w: packet hash %s, recomputed %s", ErrChainMismatch, p.Merkle.PacketHash, ph)
	}
	if r := canonicalize.Chain(prev, ph); r != p.Merkle.ReceiptHash {
		return fmt.Errorf("%w: receipt hash %s, recomputed %s", ErrChainMismatch, p.Merkle.ReceiptHash, r)
	}
	return nil
}
