// Package fieldcrypt encrypts sensitive note fields at the persistence
// boundary. Everything above the repository layer works with plaintext;
// everything at rest is AES-256-GCM ciphertext with a per-value random nonce,
// so identical plaintexts never produce identical blobs and any tampering is
// detected on decrypt.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	ErrInvalidKeySize = errors.New("encryption key must be exactly 32 bytes")

	// ErrDecryptionFailed means the ciphertext was tampered with or the key
	// is wrong. Either way the stored clinical content cannot be trusted, so
	// this is fatal for the affected field and is never retried.
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")
)

// Codec performs authenticated field encryption with a fixed process-lifetime
// key. Construct once at startup and inject; key rotation is handled outside
// this package by re-deploying with a new key.
type Codec struct {
	aead cipher.AEAD
}

// New builds a codec from a 32-byte key.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt returns nonce||ciphertext||tag for the given plaintext. A fresh
// random nonce is drawn per call.
func (c *Codec) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt reverses Encrypt. Returns ErrDecryptionFailed if the blob was
// modified or sealed under a different key.
func (c *Codec) Decrypt(blob []byte) (string, error) {
	if len(blob) < c.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}
