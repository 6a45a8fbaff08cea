// Package obscure provides the reversible codecs the credential vault uses
// to turn a plaintext envelope into the opaque string it persists.
//
// Base64 is obfuscation only: anyone with read access to the settings
// store can recover the plaintext. AESGCM is authenticated encryption and
// is only as strong as the handling of its key.
package obscure

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// aesPrefix marks values produced by AESGCM so a vault switching codecs
// can tell the formats apart.
const aesPrefix = "dg.v1:"

// ErrMalformed is returned when an encoded value cannot be decoded.
var ErrMalformed = errors.New("malformed encoded value")

// Codec reversibly encodes envelope bytes into a storable string.
type Codec interface {
	Encode(plaintext []byte) (string, error)
	Decode(encoded string) ([]byte, error)
	// Name identifies the codec in logs.
	Name() string
}

// Base64 obscures values with standard base64. It is not encryption.
type Base64 struct{}

// Compile-time interface satisfaction checks.
var (
	_ Codec = Base64{}
	_ Codec = (*AESGCM)(nil)
)

func (Base64) Name() string { return "base64" }

func (Base64) Encode(plaintext []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

func (Base64) Decode(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrMalformed, err)
	}
	return data, nil
}

// AESGCM encrypts values with AES-GCM. The output is the prefix followed by
// base64(nonce || ciphertext || tag).
type AESGCM struct {
	key []byte
}

// NewAESGCM creates a codec from key material. Keys of 16, 24 or 32 bytes are
// used as-is; anything else is stretched with SHA-256 into a 32-byte key.
func NewAESGCM(keyMaterial []byte) (*AESGCM, error) {
	trimmed := bytes.TrimSpace(keyMaterial)
	if len(trimmed) == 0 {
		return nil, errors.New("obscure: key material is required")
	}
	return &AESGCM{key: normalizeKey(trimmed)}, nil
}

func (c *AESGCM) Name() string { return "aes-gcm" }

func (c *AESGCM) Encode(plaintext []byte) (string, error) {
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends to nonce, producing nonce || ciphertext || tag.
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return aesPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AESGCM) Decode(encoded string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	if !strings.HasPrefix(trimmed, aesPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrMalformed, aesPrefix)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(trimmed, aesPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrMalformed, err)
	}

	gcm, err := c.aead()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrMalformed)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm.Open: %v", ErrMalformed, err)
	}
	return plaintext, nil
}

func (c *AESGCM) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

func normalizeKey(value []byte) []byte {
	switch len(value) {
	case 16, 24, 32:
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}
