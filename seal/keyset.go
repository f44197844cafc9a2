package seal

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Algorithm tags carried by a KeySet.
const (
	AlgCBCHMAC = "AES-256-CBC-HMAC-SHA256"
	AlgXChaCha = "XChaCha20-Poly1305"
)

// CombinedSize is the persisted key length: encryption key followed by integrity key.
const CombinedSize = 2 * KeySize

// KeySet is a session's symmetric key material. It is immutable once built.
type KeySet struct {
	Algorithm string
	combined  [CombinedSize]byte
}

// GenerateKeySet draws a fresh random 512-bit combined key for alg.
func GenerateKeySet(alg string) (*KeySet, error) {
	if _, err := ForAlgorithm(alg); err != nil {
		return nil, err
	}
	ks := &KeySet{Algorithm: alg}
	if _, err := rand.Read(ks.combined[:]); err != nil {
		return nil, fmt.Errorf("seal: generate key: %w", err)
	}
	return ks, nil
}

// KeySetFromCombined rebuilds a KeySet from its 64-byte persisted form.
func KeySetFromCombined(alg string, combined []byte) (*KeySet, error) {
	if _, err := ForAlgorithm(alg); err != nil {
		return nil, err
	}
	if len(combined) != CombinedSize {
		return nil, fmt.Errorf("seal: combined key must be %d bytes, got %d", CombinedSize, len(combined))
	}
	ks := &KeySet{Algorithm: alg}
	copy(ks.combined[:], combined)
	return ks, nil
}

// KeySetFromHex parses a hex-encoded combined key, as found in configuration files.
func KeySetFromHex(alg, s string) (*KeySet, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("seal: decode key: %w", err)
	}
	return KeySetFromCombined(alg, b)
}

// Combined returns a copy of the 64-byte persisted key.
func (k *KeySet) Combined() []byte {
	out := make([]byte, CombinedSize)
	copy(out, k.combined[:])
	return out
}

// EncKey is the first half of the combined key.
func (k *KeySet) EncKey() []byte { return k.combined[:KeySize:KeySize] }

// MACKey is the second half of the combined key.
func (k *KeySet) MACKey() []byte { return k.combined[KeySize:CombinedSize:CombinedSize] }

// Equal reports whether two key sets hold the same algorithm and key.
func (k *KeySet) Equal(o *KeySet) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.Algorithm == o.Algorithm && k.combined == o.combined
}
