// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the SHA-256 helpers used for every hash in the
// pipeline: packet provenance, the packet chain and the audit ledger.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// RootHash is the previous-hash sentinel of an empty chain.
const RootHash = "genesis"

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is marshaled with encoding/json (so struct tags apply), every string key
// and value is normalized to Unicode NFC, and the result is canonicalized by
// gowebpki/jcs: sorted keys, no HTML escaping, ES6 number formatting.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("jcs: intermediate decode failed: %w", err)
	}

	normalized, err := json.Marshal(normalize(generic))
	if err != nil {
		return nil, fmt.Errorf("jcs: re-marshal failed: %w", err)
	}

	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// CanonicalHash returns the prefixed SHA-256 digest of the canonical JSON
// representation of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns "sha256:<hex>" for data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Chain links a digest to the digest that precedes it: H(prev ‖ h).
// An empty prev (first link of a chain) yields H(h).
func Chain(prev, h string) string {
	if prev == "" {
		return HashBytes([]byte(h))
	}
	return HashBytes([]byte(prev + h))
}
