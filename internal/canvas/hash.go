package canvas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainState = "canvaslog/state/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateDigest computes the content digest of a state.
// Strings are hashed byte for byte, so states that differ only in Unicode
// normalization have different digests. Equal states always share a digest.
func StateDigest(s CanvasState) (string, error) {
	data, err := MarshalCanonicalState(s)
	if err != nil {
		return "", fmt.Errorf("StateDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, data), nil
}

// MustStateDigest is like StateDigest but panics on error.
// Use only in tests or when the state is known to be finite.
func MustStateDigest(s CanvasState) string {
	d, err := StateDigest(s)
	if err != nil {
		panic(err)
	}
	return d
}
