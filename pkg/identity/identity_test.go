package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

func fullProof() *contracts.IdentityProof {
	return &contracts.IdentityProof{Factors: []contracts.IdentityFactor{
		{Kind: contracts.FactorIris, Verified: true, Reference: "iris-1"},
		{Kind: contracts.FactorPalm, Verified: true, Reference: "palm-1"},
		{Kind: contracts.FactorToken, Verified: true, Reference: "tok-1"},
		{Kind: contracts.FactorAirGap, Verified: true, Reference: "ag-1"},
	}}
}

func without(p *contracts.IdentityProof, kind contracts.FactorKind) *contracts.IdentityProof {
	out := &contracts.IdentityProof{}
	for _, f := range p.Factors {
		if f.Kind != kind {
			out.Factors = append(out.Factors, f)
		}
	}
	return out
}

func TestCheckFactors(t *testing.T) {
	require.NoError(t, CheckFactors(fullProof(), contracts.AllFactorKinds))
	require.NoError(t, CheckFactors(fullProof(), nil))

	for _, kind := range contracts.AllFactorKinds {
		t.Run("missing "+string(kind), func(t *testing.T) {
			err := CheckFactors(without(fullProof(), kind), contracts.AllFactorKinds)
			assert.ErrorIs(t, err, ErrMissingFactor)
		})
		t.Run("unverified "+string(kind), func(t *testing.T) {
			p := fullProof()
			for i := range p.Factors {
				if p.Factors[i].Kind == kind {
					p.Factors[i].Verified = false
				}
			}
			assert.ErrorIs(t, CheckFactors(p, contracts.AllFactorKinds), ErrUnverifiedFactor)
		})
	}

	assert.ErrorIs(t, CheckFactors(nil, contracts.AllFactorKinds), ErrMissingFactor)
}

func TestCheckFactors_NilProofFailsWithoutRequiredKinds(t *testing.T) {
	assert.ErrorIs(t, CheckFactors(nil, nil), ErrMissingFactor)
	assert.ErrorIs(t, CheckFactors(nil, []contracts.FactorKind{}), ErrMissingFactor)
}

func TestEnrollmentProvider(t *testing.T) {
	ctx := context.Background()
	p := NewEnrollmentProvider()
	p.Enroll("op-1", contracts.FactorIris, "iris-1")
	p.Enroll("op-1", contracts.FactorToken, "tok-1")

	require.NoError(t, p.VerifyProof(ctx, "op-1", fullProof()))
	assert.ErrorIs(t, p.VerifyProof(ctx, "op-2", fullProof()), ErrProofRejected)

	other := fullProof()
	other.Factors[0].Reference = "iris-stolen"
	assert.ErrorIs(t, p.VerifyProof(ctx, "op-1", other), ErrProofRejected)
	assert.ErrorIs(t, p.VerifyProof(ctx, "op-1", nil), ErrMissingFactor)
}

func testSig() contracts.Signature {
	return contracts.Signature{
		SignerGroup: "water",
		SignerID:    "op-1",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpaqueVerifier(t *testing.T) {
	ctx := context.Background()
	sig := testSig()
	assert.ErrorIs(t, OpaqueVerifier{}.Verify(ctx, "pkt", sig), ErrSignatureRejected)
	sig.ProofToken = "opaque"
	assert.NoError(t, OpaqueVerifier{}.Verify(ctx, "pkt", sig))
	sig.SignerID = ""
	assert.ErrorIs(t, OpaqueVerifier{}.Verify(ctx, "pkt", sig), ErrSignatureRejected)
}

func TestHMACVerifier(t *testing.T) {
	ctx := context.Background()
	_, err := NewHMACVerifier([]byte("short"))
	require.Error(t, err)

	v, err := NewHMACVerifier([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sig := testSig()
	sig.ProofToken, err = v.Sign("pkt-1", sig)
	require.NoError(t, err)
	require.NoError(t, v.Verify(ctx, "pkt-1", sig))

	assert.ErrorIs(t, v.Verify(ctx, "pkt-2", sig), ErrSignatureRejected, "token bound to packet")

	other := sig
	other.SignerGroup = "power"
	assert.ErrorIs(t, v.Verify(ctx, "pkt-1", other), ErrSignatureRejected, "key derived per group")
}

func TestJWTVerifier(t *testing.T) {
	ctx := context.Background()
	keys := NewSignerKeys()
	_, err := keys.Enroll("water")
	require.NoError(t, err)

	sig := testSig()
	sig.ProofToken, err = keys.Issue("pkt-1", sig, 10*time.Minute)
	require.NoError(t, err)

	v := NewJWTVerifier(keys.KeyFunc()).WithClock(func() time.Time { return sig.Timestamp.Add(time.Minute) })
	require.NoError(t, v.Verify(ctx, "pkt-1", sig))
	assert.ErrorIs(t, v.Verify(ctx, "pkt-2", sig), ErrSignatureRejected)

	expired := NewJWTVerifier(keys.KeyFunc()).WithClock(func() time.Time { return sig.Timestamp.Add(time.Hour) })
	assert.ErrorIs(t, expired.Verify(ctx, "pkt-1", sig), ErrSignatureRejected)

	impostor := sig
	impostor.SignerID = "op-9"
	assert.ErrorIs(t, v.Verify(ctx, "pkt-1", impostor), ErrSignatureRejected)

	_, err = keys.Issue("pkt-1", contracts.Signature{SignerGroup: "power"}, time.Minute)
	assert.Error(t, err)

	garbage := sig
	garbage.ProofToken = "not-a-jwt"
	assert.ErrorIs(t, v.Verify(ctx, "pkt-1", garbage), ErrSignatureRejected)
}
