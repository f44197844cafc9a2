package seal

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD seals and opens byte payloads under a KeySet.
// Implementations hold no mutable state and are safe for concurrent use.
type AEAD interface {
	Algorithm() string
	Seal(plaintext []byte, key *KeySet) ([]byte, error)
	Open(sealed []byte, key *KeySet) ([]byte, error)
}

// ForAlgorithm returns the AEAD implementing alg.
func ForAlgorithm(alg string) (AEAD, error) {
	switch alg {
	case AlgCBCHMAC:
		return CBCHMAC{}, nil
	case AlgXChaCha:
		return XChaCha{}, nil
	default:
		return nil, fmt.Errorf("seal: unknown algorithm %q", alg)
	}
}

// CBCHMAC is the default AES-256-CBC + HMAC-SHA256 scheme.
type CBCHMAC struct{}

func (CBCHMAC) Algorithm() string { return AlgCBCHMAC }

func (c CBCHMAC) Seal(plaintext []byte, key *KeySet) ([]byte, error) {
	if err := checkAlg(c, key); err != nil {
		return nil, err
	}
	return Seal(plaintext, key.EncKey(), key.MACKey())
}

func (c CBCHMAC) Open(sealed []byte, key *KeySet) ([]byte, error) {
	if err := checkAlg(c, key); err != nil {
		return nil, err
	}
	return Open(sealed, key.EncKey(), key.MACKey())
}

// XChaCha uses XChaCha20-Poly1305 keyed by the first half of the combined key.
// Output is nonce‖ciphertext‖tag.
type XChaCha struct{}

func (XChaCha) Algorithm() string { return AlgXChaCha }

func (c XChaCha) Seal(plaintext []byte, key *KeySet) ([]byte, error) {
	if err := checkAlg(c, key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key.EncKey())
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c XChaCha) Open(sealed []byte, key *KeySet) ([]byte, error) {
	if err := checkAlg(c, key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key.EncKey())
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrIntegrity
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return pt, nil
}

func checkAlg(a AEAD, key *KeySet) error {
	if key == nil {
		return fmt.Errorf("seal: nil key set")
	}
	if key.Algorithm != a.Algorithm() {
		return fmt.Errorf("seal: key set is %s, cipher is %s", key.Algorithm, a.Algorithm())
	}
	return nil
}
