// Package credentials resolves venue API keys from the environment
// (plain or ENC[vN]: sealed) or from HashiCorp Vault.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"

	"trading-gateway/pkg/crypto"
	"trading-gateway/pkg/exchanges/common"
)

var ErrNotFound = errors.New("credentials not found")

// Source yields the credential set for an account.
type Source interface {
	Load(ctx context.Context, account string) (common.Credential, error)
}

// Decrypter opens sealed secrets.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Static serves one credential set for every account.
type Static struct {
	Key     string
	Secret  string
	BaseURL string
	// Keyring opens sealed values; nil means sealed values are rejected.
	Keyring Decrypter
}

// Load implements Source.
func (s Static) Load(_ context.Context, _ string) (common.Credential, error) {
	if s.Key == "" && s.Secret == "" {
		return common.Credential{}, ErrNotFound
	}
	key, err := s.open(s.Key)
	if err != nil {
		return common.Credential{}, fmt.Errorf("api key: %w", err)
	}
	secret, err := s.open(s.Secret)
	if err != nil {
		return common.Credential{}, fmt.Errorf("api secret: %w", err)
	}
	return finish(common.Credential{Key: key, Secret: secret, BaseURL: s.BaseURL})
}

func (s Static) open(v string) (string, error) {
	if !crypto.IsSealed(v) {
		return v, nil
	}
	if s.Keyring == nil {
		return "", errors.New("sealed value but no MASTER_ENCRYPTION_KEY configured")
	}
	return s.Keyring.Decrypt(v)
}

// Vault reads a KV v2 secret holding api_key and secret_key. The account
// name is appended to Path when Path ends with "/".
type Vault struct {
	client  *api.Client
	path    string
	baseURL string
}

// NewVault creates a Vault source.
func NewVault(addr, token, path, baseURL string) (*Vault, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(token)
	return &Vault{client: client, path: path, baseURL: baseURL}, nil
}

// Load implements Source.
func (v *Vault) Load(ctx context.Context, account string) (common.Credential, error) {
	path := v.path
	if strings.HasSuffix(path, "/") {
		path += account
	}
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return common.Credential{}, fmt.Errorf("read vault %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return common.Credential{}, fmt.Errorf("vault %s: %w", path, ErrNotFound)
	}
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		// KV v1 mounts return the fields directly.
		data = secret.Data
	}
	base := stringField(data, "base_url")
	if base == "" {
		base = v.baseURL
	}
	return finish(common.Credential{
		Key:     stringField(data, "api_key"),
		Secret:  stringField(data, "secret_key"),
		BaseURL: base,
	})
}

func finish(c common.Credential) (common.Credential, error) {
	if err := c.Validate(); err != nil {
		return common.Credential{}, err
	}
	return c, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
