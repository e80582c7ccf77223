package redolog

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// cipherBox wraps a ChaCha20-Poly1305 AEAD keyed from the link's identity
// key, used when write_encrypted_values is enabled. A fresh random
// nonce is prepended to each sealed value (AEAD nonces must never
// repeat under a given key).
type cipherBox struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// newCipherBox derives an AEAD from key. key must be exactly 32 bytes
// (chacha20poly1305.KeySize); callers typically pass a key derived from
// the link's .key identity file via DeriveKey.
func newCipherBox(key []byte) (*cipherBox, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("redolog: init cipher: %w", err)
	}
	return &cipherBox{aead: aead}, nil
}

func (c *cipherBox) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("redolog: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

func (c *cipherBox) open(sealed []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("redolog: sealed value shorter than nonce size")
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	return c.aead.Open(nil, nonce, ciphertext, nil)
}

// DeriveKey reduces an arbitrary-length identity key (the .key file
// contents) to the 32-byte key chacha20poly1305 requires, via a simple
// fixed-output hash so operators never have to manage a second secret.
func DeriveKey(identity []byte) [chacha20poly1305.KeySize]byte {
	return sha256.Sum256(identity)
}
