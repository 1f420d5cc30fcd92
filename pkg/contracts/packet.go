package contracts

import "time"

// PacketStatus is the lifecycle state of a handshake packet.
type PacketStatus string

const (
	PacketStatusDraft      PacketStatus = "draft"
	PacketStatusReady      PacketStatus = "ready"
	PacketStatusPending    PacketStatus = "pending"
	PacketStatusAuthorized PacketStatus = "authorized"
	PacketStatusRejected   PacketStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s PacketStatus) IsTerminal() bool {
	return s == PacketStatusAuthorized || s == PacketStatusRejected
}

// PacketVersion is the document version stamped on every packet.
const PacketVersion = "1.0"

// Scope is the set of assets and regions the proposed action touches.
type Scope struct {
	Regions     []string          `json:"regions"`
	NodeIDs     []string          `json:"nodeIds"`
	NodeRegions map[string]string `json:"nodeRegions"`
}

// Uncertainty summarises how much the evidence supports the prediction.
type Uncertainty struct {
	Overall float64 `json:"overall"`
	Notes   string  `json:"notes"`
}

// Provenance pins the inputs a packet was built from.
type Provenance struct {
	ModelVersion string `json:"modelVersion"`
	ConfigHash   string `json:"configHash"`
	DataHash     string `json:"dataHash"`
}

// MerkleLink links a packet into the packet-level hash chain.
type MerkleLink struct {
	PreviousHash string `json:"previousHash"`
	PacketHash   string `json:"packetHash"`
	ReceiptHash  string `json:"receiptHash"`
}

// HandshakePacket is the authorization request for a high-consequence action.
// Once submitted it is owned by the quorum engine; callers only ever see copies.
type HandshakePacket struct {
	ID               string               `json:"id"`
	Version          string               `json:"version"`
	CreatedAt        time.Time            `json:"createdTs"`
	Status           PacketStatus         `json:"status"`
	IncidentID       string               `json:"incidentId"`
	IncidentType     string               `json:"incidentType"`
	ActionType       string               `json:"actionType"`
	Scope            Scope                `json:"scope"`
	SituationSummary string               `json:"situationSummary"`
	ProposedAction   string               `json:"proposedAction"`
	RegulatoryBasis  string               `json:"regulatoryBasis"`
	Uncertainty      Uncertainty          `json:"uncertainty"`
	EvidenceRefs     []string             `json:"evidenceRefs"`
	Provenance       Provenance           `json:"provenance"`
	Approvals        []Signature          `json:"approvals"`
	Requirement      *MultiSigRequirement `json:"requirement,omitempty"`
	Merkle           *MerkleLink          `json:"merkle,omitempty"`
	RejectionReason  string               `json:"rejectionReason,omitempty"`
}

// Clone returns a deep copy of the packet.
func (p *HandshakePacket) Clone() *HandshakePacket {
	if p == nil {
		return nil
	}
	c := *p
	c.Scope.Regions = append([]string(nil), p.Scope.Regions...)
	c.Scope.NodeIDs = append([]string(nil), p.Scope.NodeIDs...)
	if p.Scope.NodeRegions != nil {
		c.Scope.NodeRegions = make(map[string]string, len(p.Scope.NodeRegions))
		for k, v := range p.Scope.NodeRegions {
			c.Scope.NodeRegions[k] = v
		}
	}
	c.EvidenceRefs = append([]string(nil), p.EvidenceRefs...)
	c.Approvals = make([]Signature, len(p.Approvals))
	for i, s := range p.Approvals {
		c.Approvals[i] = s.Clone()
	}
	if p.Requirement != nil {
		r := p.Requirement.Clone()
		c.Requirement = &r
	}
	if p.Merkle != nil {
		m := *p.Merkle
		c.Merkle = &m
	}
	return &c
}
