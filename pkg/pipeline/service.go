// Package pipeline runs the cascade-to-authorization flow: classify the
// graph, simulate the cascade, build and seal a handshake packet, and hand it
// to the quorum engine. Every lifecycle event lands in the audit ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/munin/pkg/artifacts"
	"github.com/Mindburn-Labs/munin/pkg/audit"
	"github.com/Mindburn-Labs/munin/pkg/cascade"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
	"github.com/Mindburn-Labs/munin/pkg/handshake"
	"github.com/Mindburn-Labs/munin/pkg/observability"
	"github.com/Mindburn-Labs/munin/pkg/priority"
	"github.com/Mindburn-Labs/munin/pkg/quorum"
)

// Services are the components a Service drives. Ledger and Engine must share
// the same ledger instance.
type Services struct {
	Registry  *priority.Registry
	Simulator *cascade.Simulator
	Builder   *handshake.Builder
	Chain     *handshake.Chain
	Engine    *quorum.Engine
	Ledger    *audit.Ledger
	// Store archives sealed packets and audit bundles when set.
	Store     artifacts.Store
	Telemetry *observability.Provider
}

// Service is the orchestrator used by the CLI and the HTTP API.
type Service struct {
	svc    Services
	logger *slog.Logger
	// submitMu orders link, archive, engine submit and chain commit.
	submitMu sync.Mutex
}

// New validates that every required component is present.
func New(s Services) (*Service, error) {
	switch {
	case s.Registry == nil, s.Simulator == nil, s.Builder == nil, s.Chain == nil:
		return nil, errors.New("pipeline: classifier, simulator, builder and chain are required")
	case s.Engine == nil, s.Ledger == nil:
		return nil, fmt.Errorf("pipeline: %w", quorum.ErrNotConfigured)
	}
	if s.Telemetry == nil {
		t, err := observability.New(context.Background(), observability.DefaultConfig())
		if err != nil {
			return nil, err
		}
		s.Telemetry = t
	}
	return &Service{svc: s, logger: slog.Default().With("component", "pipeline")}, nil
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Engine exposes the quorum engine.
func (s *Service) Engine() *quorum.Engine { return s.svc.Engine }

// Ledger exposes the audit ledger.
func (s *Service) Ledger() *audit.Ledger { return s.svc.Ledger }

// Registry exposes the classification registry.
func (s *Service) Registry() *priority.Registry { return s.svc.Registry }

// CascadeRequest is a simulation request from an operator.
type CascadeRequest struct {
	Graph     *contracts.Graph          `json:"graph"`
	Seeds     []string                  `json:"seeds"`
	Emergency priority.EmergencyContext `json:"emergency"`
	Severity  cascade.Severity          `json:"severity"`
	Start     time.Time                 `json:"start"`
}

func (r CascadeRequest) simulation(c priority.Classifications) cascade.Request {
	return cascade.Request{
		Graph:           r.Graph,
		Classifications: c,
		Seeds:           r.Seeds,
		Emergency:       r.Emergency,
		Severity:        r.Severity,
		Start:           r.Start,
	}
}

// Simulate classifies the graph and runs one cascade.
func (s *Service) Simulate(ctx context.Context, req CascadeRequest) (tl *cascade.Timeline, err error) {
	ctx, done := s.svc.Telemetry.TrackOperation(ctx, "cascade.simulate",
		attribute.String("emergency", req.Emergency.Level.String()))
	defer func() { done(err) }()

	c, err := s.svc.Registry.ClassifyGraph(req.Graph)
	if err != nil {
		return nil, err
	}
	return s.svc.Simulator.Simulate(ctx, req.simulation(c))
}

// ProposeRequest turns a predicted cascade into an authorization request.
type ProposeRequest struct {
	CascadeRequest
	IncidentID   string              `json:"incidentId"`
	IncidentType string              `json:"incidentType"`
	Evidence     *contracts.Evidence `json:"evidence"`
}

// Proposal is a submitted packet with the cascade that produced it.
type Proposal struct {
	Packet   *contracts.HandshakePacket `json:"packet"`
	Timeline *cascade.Timeline          `json:"timeline,omitempty"`
	// ArchiveRef is the content address of the sealed packet, when archived.
	ArchiveRef string `json:"archiveRef,omitempty"`
}

// Propose simulates the cascade and submits a packet for it.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	tl, err := s.Simulate(ctx, req.CascadeRequest)
	if err != nil {
		return nil, err
	}
	p, err := s.Submit(ctx, tl.Incident(req.IncidentID, req.IncidentType), req.Graph, req.Evidence)
	if err != nil {
		return nil, err
	}
	p.Timeline = tl
	return p, nil
}

// ProposeBatch simulates every request in parallel, then builds, seals and
// submits the packets in request order so the packet chain is deterministic.
func (s *Service) ProposeBatch(ctx context.Context, reqs []ProposeRequest, workers int) ([]*Proposal, error) {
	sims := make([]cascade.Request, len(reqs))
	for i, r := range reqs {
		c, err := s.svc.Registry.ClassifyGraph(r.Graph)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		sims[i] = r.simulation(c)
	}

	timelines, err := s.svc.Simulator.RunBatch(ctx, sims, workers)
	if err != nil {
		return nil, err
	}

	out := make([]*Proposal, len(reqs))
	for i, r := range reqs {
		p, err := s.Submit(ctx, timelines[i].Incident(r.IncidentID, r.IncidentType), r.Graph, r.Evidence)
		if err != nil {
			return out[:i], fmt.Errorf("request %d: %w", i, err)
		}
		p.Timeline = timelines[i]
		out[i] = p
	}
	return out, nil
}

// Submit builds, seals, archives and submits a packet for an incident
// produced elsewhere.
func (s *Service) Submit(ctx context.Context, incident *contracts.Incident, graph *contracts.Graph, evidence *contracts.Evidence) (_ *Proposal, err error) {
	ctx, done := s.svc.Telemetry.TrackOperation(ctx, "packet.submit")
	defer func() { done(err) }()

	pkt, err := s.svc.Builder.Build(incident, graph, evidence)
	if err != nil {
		return nil, err
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	// The chain head only moves once the packet is in the ledger.
	if err := s.svc.Chain.Link(pkt); err != nil {
		return nil, err
	}

	var ref string
	if s.svc.Store != nil {
		ref, err = artifacts.PutJSON(ctx, s.svc.Store, pkt)
		if err != nil {
			return nil, fmt.Errorf("archive packet %s: %w", pkt.ID, err)
		}
	}

	submitted, err := s.svc.Engine.Submit(ctx, pkt)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Chain.Commit(submitted); err != nil {
		return nil, err
	}
	s.svc.Telemetry.RecordVerdict(ctx, string(submitted.Status), attribute.String("action", submitted.ActionType))
	s.logger.Info("packet proposed",
		"packet_id", submitted.ID,
		"incident_id", submitted.IncidentID,
		"action_type", submitted.ActionType,
		"scope_nodes", len(submitted.Scope.NodeIDs),
		"archive_ref", ref,
	)
	return &Proposal{Packet: submitted, ArchiveRef: ref}, nil
}

// Sign adds one signer group's signature.
func (s *Service) Sign(ctx context.Context, packetID, signerGroup string, sig contracts.Signature, proof *contracts.IdentityProof) (authorized bool, err error) {
	ctx, done := s.svc.Telemetry.TrackOperation(ctx, "packet.sign", attribute.String("signer_group", signerGroup))
	defer func() { done(err) }()

	authorized, err = s.svc.Engine.AddSignature(ctx, packetID, signerGroup, sig, proof)
	if err != nil {
		return authorized, err
	}
	if authorized {
		s.svc.Telemetry.RecordVerdict(ctx, string(contracts.PacketStatusAuthorized))
	}
	return authorized, nil
}

// Reject rejects a pending packet.
func (s *Service) Reject(ctx context.Context, packetID, actor, reason string) (err error) {
	ctx, done := s.svc.Telemetry.TrackOperation(ctx, "packet.reject")
	defer func() { done(err) }()

	if err := s.svc.Engine.Reject(ctx, packetID, actor, reason); err != nil {
		return err
	}
	s.svc.Telemetry.RecordVerdict(ctx, string(contracts.PacketStatusRejected))
	return nil
}

// Execute records execution of an authorized packet.
func (s *Service) Execute(ctx context.Context, packetID, actor string) (err error) {
	ctx, done := s.svc.Telemetry.TrackOperation(ctx, "packet.execute")
	defer func() { done(err) }()
	return s.svc.Engine.MarkExecuted(ctx, packetID, actor)
}

// ArchiveLedger stores the full audit ledger as a bundle.
func (s *Service) ArchiveLedger(ctx context.Context) (string, error) {
	if s.svc.Store == nil {
		return "", errors.New("no artifact store configured")
	}
	return s.svc.Ledger.Archive(ctx, s.svc.Store)
}
