// Package identity gates signatures on multi-factor identity proofs and
// verifies signature proof tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

var (
	// ErrMissingFactor is returned when a required factor is absent.
	ErrMissingFactor = errors.New("identity factor missing")
	// ErrUnverifiedFactor is returned when a required factor was not verified
	// by its capture device.
	ErrUnverifiedFactor = errors.New("identity factor not verified")
	// ErrProofRejected is returned when a provider rejects an otherwise
	// complete proof.
	ErrProofRejected = errors.New("identity proof rejected")
)

// CheckFactors requires a proof with every kind in required present and
// verified. A nil proof never passes, even when required is empty.
func CheckFactors(proof *contracts.IdentityProof, required []contracts.FactorKind) error {
	if proof == nil {
		return fmt.Errorf("%w: no identity proof", ErrMissingFactor)
	}
	for _, kind := range required {
		f, ok := proof.Factor(kind)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingFactor, kind)
		}
		if !f.Verified {
			return fmt.Errorf("%w: %s", ErrUnverifiedFactor, kind)
		}
	}
	return nil
}

// IdentityProofProvider confirms that a proof belongs to the signer. It is the
// boundary to biometric and hardware token back ends.
type IdentityProofProvider interface {
	VerifyProof(ctx context.Context, signerID string, proof *contracts.IdentityProof) error
}

// EnrollmentProvider checks factor references against enrolled references.
// A signer with no enrollment is rejected.
type EnrollmentProvider struct {
	mu       sync.RWMutex
	enrolled map[string]map[contracts.FactorKind]string
}

// NewEnrollmentProvider creates an empty provider.
func NewEnrollmentProvider() *EnrollmentProvider {
	return &EnrollmentProvider{enrolled: make(map[string]map[contracts.FactorKind]string)}
}

// Enroll records the reference of one factor for a signer.
func (p *EnrollmentProvider) Enroll(signerID string, kind contracts.FactorKind, reference string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.enrolled[signerID]
	if !ok {
		m = make(map[contracts.FactorKind]string)
		p.enrolled[signerID] = m
	}
	m[kind] = reference
}

// VerifyProof implements IdentityProofProvider.
func (p *EnrollmentProvider) VerifyProof(_ context.Context, signerID string, proof *contracts.IdentityProof) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	refs, ok := p.enrolled[signerID]
	if !ok {
		return fmt.Errorf("%w: signer %s not enrolled", ErrProofRejected, signerID)
	}
	if proof == nil {
		return fmt.Errorf("%w: no identity proof", ErrMissingFactor)
	}
	for kind, want := range refs {
		f, ok := proof.Factor(kind)
		if !ok {
			continue
		}
		if f.Reference != want {
			return fmt.Errorf("%w: %s reference mismatch for signer %s", ErrProofRejected, kind, signerID)
		}
	}
	return nil
}
