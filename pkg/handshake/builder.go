// Package handshake assembles handshake packets from a predicted incident and
// links sealed packets into a hash chain.
package handshake

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/munin/pkg/canonicalize"
	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

// DefaultUncertainty is reported when no evidence window touches the scope.
const DefaultUncertainty = 0.3

// Builder turns incidents into ready packets. It keeps no per-build state.
type Builder struct {
	playbook     *Playbook
	modelVersion string
	clock        func() time.Time
	logger       *slog.Logger
}

// NewBuilder creates a builder over the given playbook.
func NewBuilder(playbook *Playbook) *Builder {
	if playbook == nil {
		playbook = DefaultPlaybook()
	}
	return &Builder{
		playbook:     playbook,
		modelVersion: "unversioned",
		clock:        time.Now,
		logger:       slog.Default().With("component", "handshake"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithModelVersion sets the model version recorded in provenance.
func (b *Builder) WithModelVersion(v string) *Builder {
	b.modelVersion = v
	return b
}

// WithLogger sets the builder logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Playbook returns the playbook in use.
func (b *Builder) Playbook() *Playbook { return b.playbook }

// Build validates its inputs and assembles a packet in status ready.
func (b *Builder) Build(incident *contracts.Incident, graph *contracts.Graph, evidence *contracts.Evidence) (*contracts.HandshakePacket, error) {
	if incident == nil {
		return nil, fmt.Errorf("%w: missing incident", contracts.ErrInvalidIncident)
	}
	if graph == nil {
		return nil, fmt.Errorf("%w: missing graph", contracts.ErrInvalidGraph)
	}
	if evidence == nil {
		return nil, fmt.Errorf("%w: missing evidence", contracts.ErrInvalidEvidence)
	}
	if err := incident.Validate(); err != nil {
		return nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	if err := evidence.Validate(); err != nil {
		return nil, err
	}

	scope, err := buildScope(incident, graph)
	if err != nil {
		return nil, err
	}

	entry, err := b.playbook.Lookup(incident.Type)
	if err != nil {
		return nil, err
	}

	uncertainty, refs := assessUncertainty(scope, evidence)

	dataHash, err := DataHash(graph, evidence)
	if err != nil {
		return nil, fmt.Errorf("data hash: %w", err)
	}
	configHash, err := b.playbook.Hash()
	if err != nil {
		return nil, fmt.Errorf("config hash: %w", err)
	}

	pkt := &contracts.HandshakePacket{
		ID:               uuid.NewString(),
		Version:          contracts.PacketVersion,
		CreatedAt:        b.clock().UTC(),
		Status:           contracts.PacketStatusReady,
		IncidentID:       incident.ID,
		IncidentType:     incident.Type,
		ActionType:       entry.ActionType,
		Scope:            scope,
		SituationSummary: renderSummary(entry.SummaryTemplate, incident.ID, scope),
		ProposedAction:   entry.ProposedAction,
		RegulatoryBasis:  entry.RegulatoryBasis,
		Uncertainty:      uncertainty,
		EvidenceRefs:     refs,
		Provenance: contracts.Provenance{
			ModelVersion: b.modelVersion,
			ConfigHash:   configHash,
			DataHash:     dataHash,
		},
		Approvals: []contracts.Signature{},
	}

	b.logger.Info("handshake packet built",
		"packet_id", pkt.ID,
		"incident_id", incident.ID,
		"action_type", pkt.ActionType,
		"nodes", len(scope.NodeIDs),
		"regions", len(scope.Regions),
		"uncertainty", uncertainty.Overall,
	)
	return pkt, nil
}

func buildScope(incident *contracts.Incident, graph *contracts.Graph) (contracts.Scope, error) {
	nodes := graph.NodeIndex()
	ids := incident.ImpactedUnion()
	sort.Strings(ids)

	scope := contracts.Scope{
		NodeIDs:     ids,
		NodeRegions: make(map[string]string, len(ids)),
	}
	regions := map[string]struct{}{}
	for _, id := range ids {
		n, ok := nodes[id]
		if !ok {
			return contracts.Scope{}, fmt.Errorf("%w: impacted node %q not in graph", contracts.ErrInvalidIncident, id)
		}
		scope.NodeRegions[id] = n.Region
		if n.Region != "" {
			regions[n.Region] = struct{}{}
		}
	}
	scope.Regions = make([]string, 0, len(regions))
	for r := range regions {
		scope.Regions = append(scope.Regions, r)
	}
	sort.Strings(scope.Regions)
	return scope, nil
}

func assessUncertainty(scope contracts.Scope, evidence *contracts.Evidence) (contracts.Uncertainty, []string) {
	inScope := make(map[string]struct{}, len(scope.NodeIDs))
	for _, id := range scope.NodeIDs {
		inScope[id] = struct{}{}
	}

	refs := []string{}
	var sum float64
	for _, w := range evidence.Windows {
		if !w.Touches(inScope) {
			continue
		}
		refs = append(refs, w.ID)
		sum += w.Robustness
	}
	sort.Strings(refs)

	if len(refs) == 0 {
		return contracts.Uncertainty{
			Overall: DefaultUncertainty,
			Notes:   "no evidence windows touch the scope; default uncertainty applied",
		}, refs
	}

	overall := 1 - sum/float64(len(refs))
	if overall < 0 {
		overall = 0
	}
	if overall > 1 {
		overall = 1
	}
	return contracts.Uncertainty{
		Overall: overall,
		Notes:   fmt.Sprintf("1 - mean robustness over %d of %d evidence windows touching the scope", len(refs), len(evidence.Windows)),
	}, refs
}

// DataHash is the canonical hash of the graph and evidence with nodes, edges
// and windows ordered by id, so input ordering never changes provenance. Ids
// must be unique for that ordering to be total.
func DataHash(graph *contracts.Graph, evidence *contracts.Evidence) (string, error) {
	if err := graph.Validate(); err != nil {
		return "", err
	}
	if err := evidence.Validate(); err != nil {
		return "", err
	}
	nodes := append([]contracts.Node(nil), graph.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	edges := append([]contracts.Edge(nil), graph.Edges...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	windows := append([]contracts.EvidenceWindow(nil), evidence.Windows...)
	sort.Slice(windows, func(i, j int) bool { return windows[i].ID < windows[j].ID })

	return canonicalize.CanonicalHash(map[string]any{
		"graph":    map[string]any{"nodes": nodes, "edges": edges},
		"evidence": map[string]any{"windows": windows},
	})
}
