// Package seal implements the authenticated symmetric cipher used for Encrypted payloads.
//
// The default scheme is encrypt-then-MAC: AES-256 in CBC mode with PKCS#7 padding,
// authenticated by HMAC-SHA256 over the length-prefixed IV and ciphertext.
//
// Sealed blob layout (lengths are 4-byte big-endian):
//
//	┌────────┬──────────┬────────┬─────────────────┬──────────────┐
//	│ ivLen  │    IV    │ ctLen  │   ciphertext    │  HMAC tag    │
//	│ uint32 │ 16 bytes │ uint32 │  ctLen bytes    │   32 bytes   │
//	└────────┴──────────┴────────┴─────────────────┴──────────────┘
//	└──────────────── authenticated by the tag ───┘
//
// Every Seal draws a fresh random IV, so sealing the same plaintext twice never
// produces the same blob. Open verifies the tag before touching the cipher.
package seal

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	KeySize = 32 // Both the encryption key and the integrity key are 256 bits
	ivSize  = aes.BlockSize
	tagSize = sha256.Size
)

var (
	// ErrIntegrity is returned when a sealed blob fails authentication or is malformed.
	// Callers must treat it as possible tampering.
	ErrIntegrity = errors.New("seal: integrity check failed")
	ErrKeySize   = errors.New("seal: keys must be 32 bytes")
)

// Seal encrypts plaintext with encKey and authenticates the result with macKey.
func Seal(plaintext, encKey, macKey []byte) ([]byte, error) {
	if len(encKey) != KeySize || len(macKey) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("seal: generate iv: %w", err)
	}

	padded := pad(plaintext, ivSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	framed := frame(iv, ct)
	return append(framed, tag(macKey, framed)...), nil
}

// Open verifies and decrypts a blob produced by Seal.
// Nothing is decrypted unless the tag matches.
func Open(blob, encKey, macKey []byte) ([]byte, error) {
	if len(encKey) != KeySize || len(macKey) != KeySize {
		return nil, ErrKeySize
	}
	iv, ct, framed, err := unframe(blob)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(tag(macKey, framed), blob[len(framed):]) {
		return nil, ErrIntegrity
	}
	if len(iv) != ivSize || len(ct) == 0 || len(ct)%ivSize != 0 {
		return nil, ErrIntegrity
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	return unpad(pt, ivSize)
}

// frame builds ivLen‖IV‖ctLen‖CT.
func frame(iv, ct []byte) []byte {
	buf := make([]byte, 0, 8+len(iv)+len(ct)+tagSize)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(iv)))
	buf = append(buf, iv...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ct)))
	return append(buf, ct...)
}

// unframe splits a blob into IV, ciphertext and the authenticated prefix.
// Every length is bounds-checked against the blob before slicing.
func unframe(blob []byte) (iv, ct, framed []byte, err error) {
	if len(blob) < 8+tagSize {
		return nil, nil, nil, ErrIntegrity
	}
	body := blob[:len(blob)-tagSize]

	ivLen := binary.BigEndian.Uint32(body[0:4])
	if uint64(ivLen) > uint64(len(body)-8) {
		return nil, nil, nil, ErrIntegrity
	}
	off := 4 + int(ivLen)
	iv = body[4:off]

	ctLen := binary.BigEndian.Uint32(body[off : off+4])
	off += 4
	if uint64(ctLen) != uint64(len(body)-off) {
		return nil, nil, nil, ErrIntegrity
	}
	return iv, body[off:], body, nil
}

func tag(macKey, framed []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(framed)
	return mac.Sum(nil)
}

// pad applies PKCS#7 padding.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrIntegrity
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrIntegrity
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrIntegrity
		}
	}
	return b[:len(b)-n], nil
}
