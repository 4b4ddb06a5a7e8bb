package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
)

const maxKeyVersions = 10

var ErrKeyNotFound = errors.New("encryption key not found")

// Keyring holds every configured key version and encrypts with the newest.
// Version 1 is read from <prefix>, later versions from <prefix>_V<n>.
type Keyring struct {
	mu      sync.RWMutex
	current int
	byVer   map[int]*Encryptor
}

// NewKeyring loads base64 keys through lookup (os.Getenv in production).
func NewKeyring(prefix string, lookup func(string) string) (*Keyring, error) {
	kr := &Keyring{byVer: make(map[int]*Encryptor)}
	if err := kr.load(1, lookup(prefix)); err != nil {
		return nil, fmt.Errorf("load %s: %w", prefix, err)
	}
	for v := 2; v <= maxKeyVersions; v++ {
		raw := lookup(fmt.Sprintf("%s_V%d", prefix, v))
		if raw == "" {
			continue
		}
		if err := kr.load(v, raw); err != nil {
			return nil, fmt.Errorf("load %s_V%d: %w", prefix, v, err)
		}
	}
	return kr, nil
}

func (kr *Keyring) load(version int, keyBase64 string) error {
	if keyBase64 == "" {
		return ErrKeyNotFound
	}
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}
	enc, err := NewEncryptor(key, version)
	if err != nil {
		return err
	}
	kr.byVer[version] = enc
	if version > kr.current {
		kr.current = version
	}
	return nil
}

// Encrypt seals plaintext with the newest key version.
func (kr *Keyring) Encrypt(plaintext string) (string, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.byVer[kr.current].Encrypt(plaintext)
}

// Decrypt picks the key version named by the ciphertext prefix.
func (kr *Keyring) Decrypt(ciphertext string) (string, error) {
	v := ParseVersion(ciphertext)
	if v == 0 {
		return "", ErrInvalidCiphertext
	}
	kr.mu.RLock()
	enc, ok := kr.byVer[v]
	kr.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("key version %d: %w", v, ErrKeyNotFound)
	}
	return enc.Decrypt(ciphertext)
}

// ReEncrypt rotates a ciphertext onto the newest key version.
func (kr *Keyring) ReEncrypt(ciphertext string) (string, error) {
	plain, err := kr.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt for re-encryption: %w", err)
	}
	return kr.Encrypt(plain)
}

// CurrentVersion returns the version used by Encrypt.
func (kr *Keyring) CurrentVersion() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.current
}

// GenerateKey returns a random base64-encoded 32-byte key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(randReader, key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

var randReader io.Reader = rand.Reader
