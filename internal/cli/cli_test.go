package cli

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"trading-gateway/internal/gateway/gatewaytest"
	"trading-gateway/pkg/config"
	"trading-gateway/pkg/crypto"
	"trading-gateway/pkg/exchanges/delta"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "trading-gateway version dev\n", out)
}

func TestSign(t *testing.T) {
	t.Setenv("DELTA_API_SECRET", "s3cret")
	out, err := run(t, "", "sign", "--method", "get", "--path", "/orders?product_id=27", "--timestamp", "1700000000")
	require.NoError(t, err)

	want := delta.NewSigner("s3cret").Sign("GET", 1700000000, "/v2/orders?product_id=27", "")
	assert.Contains(t, out, `prehash:   "GET1700000000/v2/orders?product_id=27"`)
	assert.Contains(t, out, "signature: "+want)
}

func TestEncryptSecretRoundTrip(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	t.Setenv("MASTER_ENCRYPTION_KEY", key)

	out, err := run(t, "my-api-secret\n", "encrypt-secret")
	require.NoError(t, err)
	sealed := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(sealed, "ENC[v1]:"))

	kr, err := crypto.NewKeyring("MASTER_ENCRYPTION_KEY", func(k string) string {
		if k == "MASTER_ENCRYPTION_KEY" {
			return key
		}
		return ""
	})
	require.NoError(t, err)
	plain, err := kr.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "my-api-secret", plain)
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "", "hash-password", "hunter2")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("hunter2")))
}

func TestProbe(t *testing.T) {
	v := gatewaytest.NewVenue(t)
	t.Setenv("DELTA_BASE_URL", v.URL)
	t.Setenv("DELTA_API_KEY", "key1")
	t.Setenv("DELTA_API_SECRET", "secret1")
	t.Setenv("CREDENTIAL_SOURCE", "env")
	t.Setenv("LOG_LEVEL", "error")

	out, err := run(t, "", "probe", "--account", "main")
	require.NoError(t, err, out)

	var res ProbeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "main", res.Account)
	assert.Equal(t, "ACTIVE", string(res.Session.State))
	require.Len(t, res.Balances.Balances, 1)
	assert.Equal(t, "USDT", res.Balances.Balances[0].Asset)

	v.RejectKey(true)
	out, err = run(t, "", "probe", "--account", "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AuthenticationRejected")
	assert.Contains(t, out, `"state": "ERROR"`)
}

func TestGatewayOptionsFromConfig(t *testing.T) {
	cfg, err := config.FromLookup(func(k string) string {
		return map[string]string{"MAX_SIGNATURE_RETRIES": "5", "MAX_DRAWDOWN_PCT": "12.5", "CLOCK_SAFETY_BUFFER": "3s"}[k]
	})
	require.NoError(t, err)
	opts := gatewayOptions(cfg, nil)
	assert.Equal(t, 5, opts.Dispatcher.MaxRetries)
	assert.Equal(t, 12.5, opts.Risk.MaxDrawdownPct)
	assert.Equal(t, 3.0, opts.Clock.SafetyBuffer.Seconds())
	assert.Equal(t, cfg.PollInterval, opts.PollInterval)
}
