package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

// SignatureClaims bind a JWT proof token to one packet and signer group.
type SignatureClaims struct {
	jwt.RegisteredClaims
	PacketID    string `json:"pkt"`
	SignerGroup string `json:"grp"`
}

// SignerKeys holds one Ed25519 key per signer group. Tokens carry the group
// key id in their kid header.
type SignerKeys struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

// NewSignerKeys creates an empty key set.
func NewSignerKeys() *SignerKeys {
	return &SignerKeys{keys: make(map[string]ed25519.PrivateKey)}
}

// Enroll generates a fresh key for group, replacing any previous key.
func (ks *SignerKeys) Enroll(group string) (ed25519.PublicKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	ks.mu.Lock()
	ks.keys[group] = priv
	ks.mu.Unlock()
	return priv.Public().(ed25519.PublicKey), nil
}

// Issue signs a proof token for sig on packetID.
func (ks *SignerKeys) Issue(packetID string, sig contracts.Signature, ttl time.Duration) (string, error) {
	ks.mu.RLock()
	key := ks.keys[sig.SignerGroup]
	ks.mu.RUnlock()
	if key == nil {
		return "", fmt.Errorf("no key enrolled for group %s", sig.SignerGroup)
	}

	now := sig.Timestamp.UTC()
	claims := SignatureClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sig.SignerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "munin/signer",
		},
		PacketID:    packetID,
		SignerGroup: sig.SignerGroup,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = sig.SignerGroup
	return token.SignedString(key)
}

// KeyFunc resolves the verification key from the kid header.
func (ks *SignerKeys) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}
		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return key.Public(), nil
	}
}

// JWTVerifier checks JWT proof tokens issued by SignerKeys.
type JWTVerifier struct {
	keyFunc jwt.Keyfunc
	clock   func() time.Time
}

// NewJWTVerifier creates a verifier resolving keys through keyFunc.
func NewJWTVerifier(keyFunc jwt.Keyfunc) *JWTVerifier {
	return &JWTVerifier{keyFunc: keyFunc, clock: time.Now}
}

// WithClock overrides the clock used for expiry checks.
func (v *JWTVerifier) WithClock(clock func() time.Time) *JWTVerifier {
	v.clock = clock
	return v
}

// Verify implements SignatureVerifier.
func (v *JWTVerifier) Verify(_ context.Context, packetID string, sig contracts.Signature) error {
	token, err := jwt.ParseWithClaims(sig.ProofToken, &SignatureClaims{}, v.keyFunc,
		jwt.WithTimeFunc(v.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureRejected, err)
	}
	claims, ok := token.Claims.(*SignatureClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("%w: invalid token", ErrSignatureRejected)
	}
	if claims.PacketID != packetID {
		return fmt.Errorf("%w: token bound to packet %s", ErrSignatureRejected, claims.PacketID)
	}
	if claims.SignerGroup != sig.SignerGroup {
		return fmt.Errorf("%w: token bound to group %s", ErrSignatureRejected, claims.SignerGroup)
	}
	if claims.Subject != sig.SignerID {
		return fmt.Errorf("%w: token subject %s", ErrSignatureRejected, claims.Subject)
	}
	return nil
}
