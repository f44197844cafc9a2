// Package bootstrap implements the one-time asymmetric exchange that delivers a session
// KeySet from server to client at login.
//
//	client                                   server
//	  │ GenerateKeyPair()                       │
//	  │ ── System.Login{PublicKey: PEM} ──────► │ GenerateKeySet()
//	  │                                         │ EncryptWithPublic(combined key)
//	  │ ◄──── {KeySet: base64(ciphertext)} ──── │
//	  │ DecryptWithPrivate(), drop key pair     │
//
// RSA-OAEP with SHA-256 is used: the padding is validated on decryption, so a
// mismatched private key fails instead of yielding garbage.
package bootstrap

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	DefaultBits = 2048
	MinBits     = 2048
	pemType     = "PUBLIC KEY"
)

var ErrDecrypt = errors.New("bootstrap: decryption failed")

// KeyPair is an ephemeral login key pair. The client keeps it only until the
// login response has been decrypted.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates an RSA key pair of the given size.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits < MinBits {
		return nil, fmt.Errorf("bootstrap: key size %d below minimum %d", bits, MinBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: generate key: %w", err)
	}
	return &KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}

// EncryptWithPublic encrypts plaintext under pub.
func EncryptWithPublic(plaintext []byte, pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, errors.New("bootstrap: nil public key")
	}
	if pub.N.BitLen() < MinBits {
		return nil, fmt.Errorf("bootstrap: public key size %d below minimum %d", pub.N.BitLen(), MinBits)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: encrypt: %w", err)
	}
	return ct, nil
}

// DecryptWithPrivate decrypts ciphertext produced by EncryptWithPublic.
func DecryptWithPrivate(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("bootstrap: nil private key")
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return pt, nil
}

// MarshalPublicKey encodes pub as a PKIX PEM block, the form sent in the login request.
func MarshalPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("bootstrap: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der})), nil
}

// ParsePublicKey decodes a PEM public key sent by a client.
func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != pemType {
		return nil, errors.New("bootstrap: public key is not a PEM PUBLIC KEY block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("bootstrap: public key is %T, want RSA", key)
	}
	if pub.N.BitLen() < MinBits {
		return nil, fmt.Errorf("bootstrap: public key size %d below minimum %d", pub.N.BitLen(), MinBits)
	}
	return pub, nil
}
