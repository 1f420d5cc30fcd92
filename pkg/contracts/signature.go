package contracts

import "time"

// ConsequenceLevel grades how severe the proposed action is.
type ConsequenceLevel string

const (
	ConsequenceLow      ConsequenceLevel = "LOW"
	ConsequenceMedium   ConsequenceLevel = "MEDIUM"
	ConsequenceHigh     ConsequenceLevel = "HIGH"
	ConsequenceCritical ConsequenceLevel = "CRITICAL"
)

// RequiresIdentityProof reports whether signatures at this level must carry
// a verified multi-factor identity proof.
func (c ConsequenceLevel) RequiresIdentityProof() bool {
	return c == ConsequenceHigh || c == ConsequenceCritical
}

// MultiSigRequirement is the M-of-N rule attached to a packet.
type MultiSigRequirement struct {
	RequiredSignerGroups  []string         `json:"requiredSignerGroups"`
	Threshold             int              `json:"threshold"`
	ConsequenceLevel      ConsequenceLevel `json:"consequenceLevel"`
	RequiresIdentityProof bool             `json:"requiresIdentityProof"`
	// MandatoryGroups have no substitute: for critical actions each of them
	// must sign regardless of how many other groups already did.
	MandatoryGroups []string `json:"mandatoryGroups,omitempty"`
}

// Clone returns a deep copy.
func (r MultiSigRequirement) Clone() MultiSigRequirement {
	r.RequiredSignerGroups = append([]string(nil), r.RequiredSignerGroups...)
	r.MandatoryGroups = append([]string(nil), r.MandatoryGroups...)
	return r
}

// Requires reports whether group is one of the required signer groups.
func (r MultiSigRequirement) Requires(group string) bool {
	for _, g := range r.RequiredSignerGroups {
		if g == group {
			return true
		}
	}
	return false
}

// FactorKind names one factor of an identity proof.
type FactorKind string

const (
	FactorIris   FactorKind = "iris"
	FactorPalm   FactorKind = "palm"
	FactorToken  FactorKind = "token"
	FactorAirGap FactorKind = "air_gap"
)

// AllFactorKinds lists the factors required by default for high-consequence signatures.
var AllFactorKinds = []FactorKind{FactorIris, FactorPalm, FactorToken, FactorAirGap}

// IdentityFactor is one factor of a multi-factor identity proof as reported by
// the capture device.
type IdentityFactor struct {
	Kind      FactorKind `json:"kind"`
	Verified  bool       `json:"verified"`
	Reference string     `json:"reference,omitempty"`
}

// IdentityProof is the multi-factor bundle accompanying a high-consequence signature.
type IdentityProof struct {
	Factors []IdentityFactor `json:"factors"`
}

// Factor returns the factor of the given kind, if present.
func (p *IdentityProof) Factor(kind FactorKind) (IdentityFactor, bool) {
	if p == nil {
		return IdentityFactor{}, false
	}
	for _, f := range p.Factors {
		if f.Kind == kind {
			return f, true
		}
	}
	return IdentityFactor{}, false
}

// Signature is one signer group's approval of a packet.
type Signature struct {
	SignerGroup   string         `json:"signerGroup"`
	SignerID      string         `json:"signerId"`
	ProofToken    string         `json:"proofToken"`
	Timestamp     time.Time      `json:"timestamp"`
	Location      string         `json:"location,omitempty"`
	IdentityProof *IdentityProof `json:"identityProof,omitempty"`
}

// Clone returns a deep copy.
func (s Signature) Clone() Signature {
	if s.IdentityProof != nil {
		p := IdentityProof{Factors: append([]IdentityFactor(nil), s.IdentityProof.Factors...)}
		s.IdentityProof = &p
	}
	return s
}
