package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/munin/pkg/contracts"
)

// ErrSignatureRejected is returned by verifiers for a bad proof token.
var ErrSignatureRejected = errors.New("signature rejected")

// SignatureVerifier checks a signature's proof token for a packet. The
// consensus core treats tokens as opaque and delegates here.
type SignatureVerifier interface {
	Verify(ctx context.Context, packetID string, sig contracts.Signature) error
}

// OpaqueVerifier accepts any non-empty token. It only suits deployments where
// tokens are checked upstream.
type OpaqueVerifier struct{}

// Verify implements SignatureVerifier.
func (OpaqueVerifier) Verify(_ context.Context, _ string, sig contracts.Signature) error {
	if strings.TrimSpace(sig.ProofToken) == "" {
		return fmt.Errorf("%w: empty proof token", ErrSignatureRejected)
	}
	if sig.SignerID == "" {
		return fmt.Errorf("%w: missing signer id", ErrSignatureRejected)
	}
	return nil
}

// HMACVerifier checks tokens produced with a per-group key derived from a
// shared master secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier. The secret must be at least 32 bytes.
func NewHMACVerifier(secret []byte) (*HMACVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("hmac verifier: secret must be at least 32 bytes, got %d", len(secret))
	}
	return &HMACVerifier{secret: append([]byte(nil), secret...)}, nil
}

func (v *HMACVerifier) groupKey(group string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, v.secret, nil, []byte("munin-signer-group:"+group))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func signingInput(packetID string, sig contracts.Signature) []byte {
	return []byte(strings.Join([]string{
		packetID,
		sig.SignerGroup,
		sig.SignerID,
		sig.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "\n"))
}

// Sign returns the token a signer device would attach to sig.
func (v *HMACVerifier) Sign(packetID string, sig contracts.Signature) (string, error) {
	key, err := v.groupKey(sig.SignerGroup)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(signingInput(packetID, sig))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify implements SignatureVerifier.
func (v *HMACVerifier) Verify(_ context.Context, packetID string, sig contracts.Signature) error {
	want, err := v.Sign(packetID, sig)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(sig.ProofToken)) {
		return fmt.Errorf("%w: hmac mismatch for signer %s", ErrSignatureRejected, sig.SignerID)
	}
	return nil
}
