// Package crypto seals venue secrets at rest with AES-256-GCM.
package crypto

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
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	sealedPrefix = "ENC[v"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor seals and opens values with one key version.
type Encryptor struct {
	aead    cipher.AEAD
	version int
}

// NewEncryptor builds an Encryptor for a 32-byte key.
func NewEncryptor(key []byte, version int) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Encryptor{aead: gcm, version: version}, nil
}

// Encrypt returns ENC[vN]:base64(nonce|ciphertext|tag).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", sealedPrefix, e.version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decrypt opens a value produced by Encrypt with the same key.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	_, payload, ok := split(ciphertext)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize+e.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := e.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// Version returns the key version stamped on ciphertexts.
func (e *Encryptor) Version() int { return e.version }

// IsSealed reports whether s carries the ENC[vN]: prefix.
func IsSealed(s string) bool {
	_, _, ok := split(s)
	return ok
}

// ParseVersion extracts N from ENC[vN]:... or returns 0.
func ParseVersion(ciphertext string) int {
	v, _, ok := split(ciphertext)
	if !ok {
		return 0
	}
	return v
}

func split(s string) (int, string, bool) {
	if !strings.HasPrefix(s, sealedPrefix) {
		return 0, "", false
	}
	end := strings.Index(s, "]:")
	if end < 0 {
		return 0, "", false
	}
	var v int
	if _, err := fmt.Sscanf(s[len(sealedPrefix):end], "%d", &v); err != nil || v <= 0 {
		return 0, "", false
	}
	return v, s[end+2:], true
}
