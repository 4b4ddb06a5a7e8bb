package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(seed byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(testKey(0), 1)
	require.NoError(t, err)

	for _, plain := range []string{"", "hello", "a207900b7693435a8fa9230a38195d", "中文測試"} {
		sealed, err := enc.Encrypt(plain)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sealed, "ENC[v1]:"))
		assert.True(t, IsSealed(sealed))

		got, err := enc.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc, err := NewEncryptor(testKey(0), 1)
	require.NoError(t, err)
	c1, _ := enc.Encrypt("same-secret")
	c2, _ := enc.Encrypt("same-secret")
	assert.NotEqual(t, c1, c2)
}

func TestInvalidKey(t *testing.T) {
	_, err := NewEncryptor([]byte("short"), 1)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDecryptInvalidCiphertext(t *testing.T) {
	enc, err := NewEncryptor(testKey(0), 1)
	require.NoError(t, err)

	for _, bad := range []string{"", "not-encrypted", "ENC[v1]:", "ENC[v1]:!!!invalid", "ENC[vX]:abcd"} {
		_, err := enc.Decrypt(bad)
		assert.Error(t, err, bad)
	}

	other, err := NewEncryptor(testKey(1), 1)
	require.NoError(t, err)
	sealed, err := other.Encrypt("secret")
	require.NoError(t, err)
	_, err = enc.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestParseVersion(t *testing.T) {
	cases := map[string]int{
		"ENC[v1]:data":  1,
		"ENC[v2]:data":  2,
		"ENC[v10]:data": 10,
		"invalid":       0,
		"ENC[vX]:data":  0,
		"ENC[v0]:data":  0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseVersion(in), in)
	}
}

func TestKeyringRotation(t *testing.T) {
	env := map[string]string{
		"MASTER_ENCRYPTION_KEY":    base64.StdEncoding.EncodeToString(testKey(0)),
		"MASTER_ENCRYPTION_KEY_V2": base64.StdEncoding.EncodeToString(testKey(9)),
	}
	v1, err := NewEncryptor(testKey(0), 1)
	require.NoError(t, err)
	old, err := v1.Encrypt("secret")
	require.NoError(t, err)

	kr, err := NewKeyring("MASTER_ENCRYPTION_KEY", func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, 2, kr.CurrentVersion())

	plain, err := kr.Decrypt(old)
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)

	rotated, err := kr.ReEncrypt(old)
	require.NoError(t, err)
	assert.Equal(t, 2, ParseVersion(rotated))

	_, err = kr.Decrypt("ENC[v7]:AAAA")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyringRequiresPrimaryKey(t *testing.T) {
	_, err := NewKeyring("MASTER_ENCRYPTION_KEY", func(string) string { return "" })
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestGenerateKey(t *testing.T) {
	orig := randReader
	defer func() { randReader = orig }()
	randReader = bytes.NewReader(testKey(3))

	k, err := GenerateKey()
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(k)
	require.NoError(t, err)
	assert.Equal(t, testKey(3), raw)
}
