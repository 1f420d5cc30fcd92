// Package quorum enforces M-of-N signer group approval of handshake packets.
//
// The engine owns every submitted packet. Each state change is first
// written to the audit ledger and only then made visible; a ledger failure
// leaves the packet as it was. Signatures are never retried automatically.
package quorum

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/munin/pkg/audit"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
	"github.com/Mindburn-Labs/munin/pkg/identity"
)

// EngineActor is the ledger actor of engine-initiated events.
const EngineActor = "quorum-engine"

type record struct {
	packet     *contracts.HandshakePacket
	executed   bool
	executedAt time.Time
}

// Engine accumulates signatures and decides authorization.
type Engine struct {
	mu       sync.RWMutex
	policy   Policy
	ledger   *audit.Ledger
	verifier identity.SignatureVerifier
	proofs   identity.IdentityProofProvider
	limiter  SignerLimiter
	packets  map[string]*record
	order    []string
	clock    func() time.Time
	logger   *slog.Logger
}

// NewEngine validates policy and requires a ledger and a signature verifier.
func NewEngine(policy Policy, ledger *audit.Ledger, verifier identity.SignatureVerifier) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: audit ledger is required", ErrNotConfigured)
	}
	if verifier == nil {
		return nil, fmt.Errorf("%w: signature verifier is required", ErrNotConfigured)
	}
	return &Engine{
		policy:   policy,
		ledger:   ledger,
		verifier: verifier,
		packets:  make(map[string]*record),
		clock:    time.Now,
		logger:   slog.Default().With("component", "quorum"),
	}, nil
}

// WithProofProvider adds a provider consulted after factor checks.
func (e *Engine) WithProofProvider(p identity.IdentityProofProvider) *Engine {
	e.proofs = p
	return e
}

// WithLimiter throttles submissions per signer.
func (e *Engine) WithLimiter(l SignerLimiter) *Engine {
	e.limiter = l
	return e
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithLogger sets the engine logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// Policy returns the engine policy.
func (e *Engine) Policy() Policy { return e.policy }

// Submit attaches the signature requirement to a ready, sealed packet and
// moves it to pending.
func (e *Engine) Submit(ctx context.Context, p *contracts.HandshakePacket) (*contracts.HandshakePacket, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("%w: missing packet id", ErrInvalidPacket)
	}
	if p.Status != contracts.PacketStatusReady {
		return nil, fmt.Errorf("%w: status %s, expected %s", ErrInvalidPacket, p.Status, contracts.PacketStatusReady)
	}
	if p.Merkle == nil {
		return nil, fmt.Errorf("%w: packet %s is not sealed", ErrInvalidPacket, p.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.packets[p.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePacket, p.ID)
	}

	next := p.Clone()
	req := e.policy.DetermineRequirement(next.ActionType, next.Scope)
	next.Requirement = &req
	next.Status = contracts.PacketStatusPending
	if next.Approvals == nil {
		next.Approvals = []contracts.Signature{}
	}

	_, err := e.ledger.Append(ctx, audit.ActionCreate, EngineActor, next.ID, map[string]string{
		"incidentId":  next.IncidentID,
		"actionType":  next.ActionType,
		"consequence": string(req.ConsequenceLevel),
		"threshold":   strconv.Itoa(req.Threshold),
		"packetHash":  next.Merkle.PacketHash,
		"receiptHash": next.Merkle.ReceiptHash,
	})
	if err != nil {
		return nil, err
	}

	e.packets[next.ID] = &record{packet: next}
	e.order = append(e.order, next.ID)

	e.logger.Info("packet submitted",
		"packet_id", next.ID,
		"action_type", next.ActionType,
		"consequence", req.ConsequenceLevel,
		"threshold", req.Threshold,
		"groups", len(req.RequiredSignerGroups),
	)
	return next.Clone(), nil
}

// AddSignature records signerGroup's approval. It reports whether the packet
// is authorized after this signature. A packet already authorized yields
// false and ErrAlreadyAuthorized.
//
// When the recorded signatures already meet the quorum but the authorize
// event was never persisted, the call retries that event instead of
// recording another signature.
func (e *Engine) AddSignature(ctx context.Context, packetID, signerGroup string, sig contracts.Signature, proof *contracts.IdentityProof) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.packets[packetID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPacket, packetID)
	}
	cur := rec.packet
	switch cur.Status {
	case contracts.PacketStatusAuthorized:
		return false, fmt.Errorf("%w: %s", ErrAlreadyAuthorized, packetID)
	case contracts.PacketStatusRejected:
		return false, fmt.Errorf("%w: %s", ErrAlreadyRejected, packetID)
	}
	if summarize(cur, rec.executed).QuorumMet {
		if err := e.authorize(ctx, rec); err != nil {
			return false, err
		}
		return true, nil
	}

	req := *cur.Requirement
	if !req.Requires(signerGroup) {
		return false, fmt.Errorf("%w: %s", ErrSignerGroupNotRequired, signerGroup)
	}
	for _, a := range cur.Approvals {
		if a.SignerGroup == signerGroup {
			return false, fmt.Errorf("%w: %s", ErrDuplicateSignature, signerGroup)
		}
	}

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, sig.SignerID)
		if err != nil {
			return false, fmt.Errorf("signer limiter: %w", err)
		}
		if !allowed {
			e.logger.Warn("signer throttled", "packet_id", packetID, "signer_id", sig.SignerID)
			return false, fmt.Errorf("%w: signer %s", ErrRateLimited, sig.SignerID)
		}
	}

	sig.SignerGroup = signerGroup
	if proof != nil {
		sig.IdentityProof = proof
	}
	sig = sig.Clone()
	if sig.Timestamp.IsZero() {
		sig.Timestamp = e.clock().UTC()
	}

	if err := e.verifier.Verify(ctx, packetID, sig); err != nil {
		e.logger.Warn("signature rejected", "packet_id", packetID, "signer_group", signerGroup, "error", err)
		return false, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if req.RequiresIdentityProof {
		if err := e.checkIdentity(ctx, sig); err != nil {
			e.logger.Warn("identity proof rejected", "packet_id", packetID, "signer_group", signerGroup, "error", err)
			return false, fmt.Errorf("%w: %w", ErrIdentityProofRequired, err)
		}
	}

	next := cur.Clone()
	next.Approvals = append(next.Approvals, sig)
	st := summarize(next, rec.executed)

	_, err := e.ledger.Append(ctx, audit.ActionSign, signerGroup+"/"+sig.SignerID, packetID, map[string]string{
		"signerGroup":          signerGroup,
		"signerId":             sig.SignerID,
		"location":             sig.Location,
		"signaturesReceived":   strconv.Itoa(st.SignaturesReceived),
		"distinctSignerGroups": strconv.Itoa(st.DistinctSignerGroups),
	})
	if err != nil {
		return false, err
	}

	// The sign entry is durable from here on.
	rec.packet = next
	e.logger.Info("signature accepted",
		"packet_id", packetID,
		"signer_group", signerGroup,
		"signatures", st.SignaturesReceived,
		"threshold", req.Threshold,
		"quorum_met", st.QuorumMet,
	)
	if !st.QuorumMet {
		return false, nil
	}
	if err := e.authorize(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Finalize authorizes a pending packet whose recorded signatures already meet
// the quorum. It reports false when the quorum is not yet met.
func (e *Engine) Finalize(ctx context.Context, packetID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.packets[packetID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPacket, packetID)
	}
	switch rec.packet.Status {
	case contracts.PacketStatusAuthorized:
		return false, fmt.Errorf("%w: %s", ErrAlreadyAuthorized, packetID)
	case contracts.PacketStatusRejected:
		return false, fmt.Errorf("%w: %s", ErrAlreadyRejected, packetID)
	}
	if !summarize(rec.packet, rec.executed).QuorumMet {
		return false, nil
	}
	if err := e.authorize(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// authorize records the authorize event and then flips the status. Callers
// hold e.mu and have checked the quorum.
func (e *Engine) authorize(ctx context.Context, rec *record) error {
	cur := rec.packet
	_, err := e.ledger.Append(ctx, audit.ActionAuthorize, EngineActor, cur.ID, map[string]string{
		"threshold":    strconv.Itoa(cur.Requirement.Threshold),
		"signerGroups": joinGroups(cur.Approvals),
	})
	if err != nil {
		e.logger.Error("authorize event not recorded", "packet_id", cur.ID, "error", err)
		return err
	}
	next := cur.Clone()
	next.Status = contracts.PacketStatusAuthorized
	rec.packet = next
	e.logger.Info("packet authorized", "packet_id", cur.ID, "signatures", len(cur.Approvals))
	return nil
}

func (e *Engine) checkIdentity(ctx context.Context, sig contracts.Signature) error {
	if err := identity.CheckFactors(sig.IdentityProof, e.policy.RequiredFactors); err != nil {
		return err
	}
	if e.proofs != nil {
		return e.proofs.VerifyProof(ctx, sig.SignerID, sig.IdentityProof)
	}
	return nil
}

// Reject terminally rejects a pending packet.
func (e *Engine) Reject(ctx context.Context, packetID, actor, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.packets[packetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPacket, packetID)
	}
	switch rec.packet.Status {
	case contracts.PacketStatusAuthorized:
		return fmt.Errorf("%w: %s", ErrAlreadyAuthorized, packetID)
	case contracts.PacketStatusRejected:
		return fmt.Errorf("%w: %s", ErrAlreadyRejected, packetID)
	}

	if _, err := e.ledger.Append(ctx, audit.ActionReject, actor, packetID, map[string]string{"reason": reason}); err != nil {
		return err
	}
	next := rec.packet.Clone()
	next.Status = contracts.PacketStatusRejected
	next.RejectionReason = reason
	rec.packet = next

	e.logger.Info("packet rejected", "packet_id", packetID, "actor", actor)
	return nil
}

// MarkExecuted records that an authorized packet's action was carried out.
func (e *Engine) MarkExecuted(ctx context.Context, packetID, actor string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.packets[packetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPacket, packetID)
	}
	if rec.packet.Status != contracts.PacketStatusAuthorized {
		return fmt.Errorf("%w: %s is %s", ErrNotAuthorized, packetID, rec.packet.Status)
	}
	if rec.executed {
		return fmt.Errorf("%w: %s", ErrAlreadyExecuted, packetID)
	}

	now := e.clock().UTC()
	if _, err := e.ledger.Append(ctx, audit.ActionExecute, actor, packetID, map[string]string{
		"actionType": rec.packet.ActionType,
	}); err != nil {
		return err
	}
	rec.executed = true
	rec.executedAt = now

	e.logger.Info("packet executed", "packet_id", packetID, "actor", actor)
	return nil
}

// Get returns a copy of the packet.
func (e *Engine) Get(packetID string) (*contracts.HandshakePacket, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.packets[packetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPacket, packetID)
	}
	return rec.packet.Clone(), nil
}

// List returns copies of all packets in submission order.
func (e *Engine) List() []*contracts.HandshakePacket {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*contracts.HandshakePacket, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.packets[id].packet.Clone())
	}
	return out
}

// Status summarizes signature progress of a packet.
func (e *Engine) Status(packetID string) (PacketStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.packets[packetID]
	if !ok {
		return PacketStatus{}, fmt.Errorf("%w: %s", ErrUnknownPacket, packetID)
	}
	st := summarize(rec.packet, rec.executed)
	if rec.executed {
		t := rec.executedAt
		st.ExecutedAt = &t
	}
	return st, nil
}

// PacketStatus is the signature progress of one packet.
type PacketStatus struct {
	PacketID             string                 `json:"packetId"`
	Status               contracts.PacketStatus `json:"status"`
	SignaturesReceived   int                    `json:"signaturesReceived"`
	DistinctSignerGroups int                    `json:"distinctSignerGroups"`
	Threshold            int                    `json:"threshold"`
	MissingGroups        []string               `json:"missingGroups"`
	MissingMandatory     []string               `json:"missingMandatory,omitempty"`
	QuorumMet            bool                   `json:"quorumMet"`
	Executed             bool                   `json:"executed"`
	ExecutedAt           *time.Time             `json:"executedAt,omitempty"`
}

func summarize(p *contracts.HandshakePacket, executed bool) PacketStatus {
	req := p.Requirement
	signed := make(map[string]struct{}, len(p.Approvals))
	for _, a := range p.Approvals {
		signed[a.SignerGroup] = struct{}{}
	}

	st := PacketStatus{
		PacketID:             p.ID,
		Status:               p.Status,
		SignaturesReceived:   len(p.Approvals),
		DistinctSignerGroups: len(signed),
		Threshold:            req.Threshold,
		MissingGroups:        []string{},
		Executed:             executed,
	}
	for _, g := range req.RequiredSignerGroups {
		if _, ok := signed[g]; !ok {
			st.MissingGroups = append(st.MissingGroups, g)
		}
	}
	for _, g := range req.MandatoryGroups {
		if _, ok := signed[g]; !ok {
			st.MissingMandatory = append(st.MissingMandatory, g)
		}
	}
	st.QuorumMet = req.Threshold >= 2 &&
		st.SignaturesReceived >= req.Threshold &&
		st.DistinctSignerGroups >= req.Threshold &&
		len(st.MissingMandatory) == 0
	return st
}

func joinGroups(approvals []contracts.Signature) string {
	groups := make([]string, 0, len(approvals))
	for _, a := range approvals {
		groups = append(groups, a.SignerGroup)
	}
	sort.Strings(groups)
	return strings.Join(groups, ",")
}
