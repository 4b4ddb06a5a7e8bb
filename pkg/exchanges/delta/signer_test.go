package delta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignIsDeterministic(t *testing.T) {
	s := NewSigner("secret")
	a := s.Sign("POST", 1700000000, "/v2/orders", `{"size":1}`)
	b := s.Sign("POST", 1700000000, "/v2/orders", `{"size":1}`)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Regexp(t, "^[0-9a-f]+$", a)
}

func TestSignMatchesReferenceHMAC(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("GET1700000000/v2/wallet/balances"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, NewSigner("secret").Sign("GET", 1700000000, "/v2/wallet/balances", ""))
}

func TestSignChangesWithEveryInput(t *testing.T) {
	s := NewSigner("secret")
	base := s.Sign("POST", 100, "/v2/orders", "{}")

	assert.NotEqual(t, base, s.Sign("DELETE", 100, "/v2/orders", "{}"))
	assert.NotEqual(t, base, s.Sign("POST", 101, "/v2/orders", "{}"))
	assert.NotEqual(t, base, s.Sign("POST", 100, "/v2/positions", "{}"))
	assert.NotEqual(t, base, s.Sign("POST", 100, "/v2/orders", `{"a":1}`))
	assert.NotEqual(t, base, NewSigner("other").Sign("POST", 100, "/v2/orders", "{}"))
}

func TestPrehashOrder(t *testing.T) {
	assert.Equal(t, "POST1700000000/v2/orders{\"a\":1}", Prehash("post", 1700000000, "/v2/orders", `{"a":1}`))
}

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"orders":                  "/v2/orders",
		"/orders":                 "/v2/orders",
		"/v2/orders":              "/v2/orders",
		"/v2":                     "/v2",
		"/v2?x=1":                 "/v2?x=1",
		"/v2products":             "/v2/v2products",
		"/positions/margined?a=b": "/v2/positions/margined?a=b",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalPath(in), in)
	}
}

func TestRequestSignsCanonicalPath(t *testing.T) {
	s := NewSigner("secret")
	req := s.Request("get", 42, "/wallet/balances", "")
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/v2/wallet/balances", req.Path)
	assert.Equal(t, s.Sign("GET", 42, "/v2/wallet/balances", ""), req.Signature)
}
