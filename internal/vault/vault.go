// Package vault encrypts stored session tokens with AES-256-GCM.
//
// Blobs are base64(nonce(12) || tag(16) || ciphertext). The layout is shared with
// rows written by earlier tooling, so it must not change.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	// ErrKeyMissing is returned when no key was configured.
	ErrKeyMissing = errors.New("vault: encryption key is not configured")
	// ErrKeyLength is returned when the decoded key is not 32 bytes.
	ErrKeyLength = errors.New("vault: encryption key must decode to 32 bytes")
	// ErrKeyEncoding is returned when the key is not valid base64.
	ErrKeyEncoding = errors.New("vault: encryption key is not valid base64")
	// ErrMalformed is returned when a blob is not valid base64 or is too short.
	ErrMalformed = errors.New("vault: malformed ciphertext")
	// ErrIntegrity is returned when the authentication tag does not verify.
	ErrIntegrity = errors.New("vault: ciphertext failed integrity check")
)

// Vault encrypts and decrypts tokens with a single process-wide key.
type Vault struct {
	aead   cipher.AEAD
	random io.Reader
}

// New builds a Vault from a base64-encoded 32-byte key.
func New(encodedKey string) (*Vault, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, ErrKeyMissing
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyEncoding, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d", ErrKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Vault{aead: aead, random: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(v.random, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	// Seal appends the tag after the ciphertext; the stored layout puts it first.
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	buf := make([]byte, 0, nonceSize+tagSize+len(ct))
	buf = append(buf, nonce...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) < nonceSize+tagSize {
		return "", fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	nonce := data[:nonceSize]
	tag := data[nonceSize : nonceSize+tagSize]
	ct := data[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	pt, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(pt), nil
}

// IsCredentialError reports whether err means the stored blob itself is unusable.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrIntegrity) || errors.Is(err, ErrMalformed)
}

// IsConfigError reports whether err comes from key configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrKeyMissing) || errors.Is(err, ErrKeyEncoding) || errors.Is(err, ErrKeyLength)
}
