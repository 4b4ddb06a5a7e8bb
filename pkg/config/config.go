// Package config loads gateway settings from the environment (optionally a
// .env file) and an optional YAML tuning file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting.
type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Venue       VenueConfig    `yaml:"venue"`
	Credentials CredentialConf `yaml:"credentials"`
	Dispatcher  DispatcherConf `yaml:"dispatcher"`
	Clock       ClockConf      `yaml:"clock"`
	Risk        RiskConf       `yaml:"risk"`
	Alerts      AlertConf      `yaml:"alerts"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// Database
	DBPath string `yaml:"db_path"`

	// Operator auth
	JWTSecret            string `yaml:"-"`
	OperatorPasswordHash string `yaml:"-"`
}

// VenueConfig points at the venue and names the account.
type VenueConfig struct {
	Account string `yaml:"account"`
	BaseURL string `yaml:"base_url"`
}

// CredentialConf selects where API keys come from. Secrets are env-only.
type CredentialConf struct {
	Source          string `yaml:"source"` // "env" or "vault"
	APIKey          string `yaml:"-"`
	APISecret       string `yaml:"-"`
	MasterKeyPrefix string `yaml:"-"`
	VaultAddr       string `yaml:"vault_addr"`
	VaultToken      string `yaml:"-"`
	VaultPath       string `yaml:"vault_path"`
}

// DispatcherConf tunes retries and pacing.
type DispatcherConf struct {
	MaxSignatureRetries int           `yaml:"max_signature_retries"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay       time.Duration `yaml:"retry_max_delay"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
	RateLimit           float64       `yaml:"rate_limit"`
}

// ClockConf tunes the clock skew estimator.
type ClockConf struct {
	SafetyBuffer time.Duration `yaml:"safety_buffer"`
	RetryStep    time.Duration `yaml:"retry_step"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// RiskConf tunes the drawdown limit.
type RiskConf struct {
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct"`
	WarningRatio   float64 `yaml:"warning_ratio"`
}

// AlertConf optionally mirrors alerts to a Redis channel.
type AlertConf struct {
	RedisURL     string `yaml:"-"`
	RedisChannel string `yaml:"redis_channel"`
}

// Load reads .env (if present), the environment, then GATEWAY_CONFIG.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()
	return FromLookup(os.Getenv)
}

// FromLookup builds a Config from an env lookup function.
func FromLookup(getenv func(string) string) (*Config, error) {
	e := &envReader{get: getenv}
	cfg := &Config{
		Port:      e.str("PORT", "8080"),
		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "console"),
		Venue: VenueConfig{
			Account: e.str("DELTA_ACCOUNT", "main"),
			BaseURL: e.str("DELTA_BASE_URL", "https://api.india.delta.exchange"),
		},
		Credentials: CredentialConf{
			Source:          strings.ToLower(e.str("CREDENTIAL_SOURCE", "env")),
			APIKey:          getenv("DELTA_API_KEY"),
			APISecret:       getenv("DELTA_API_SECRET"),
			MasterKeyPrefix: "MASTER_ENCRYPTION_KEY",
			VaultAddr:       getenv("VAULT_ADDR"),
			VaultToken:      getenv("VAULT_TOKEN"),
			VaultPath:       e.str("VAULT_SECRET_PATH", "secret/data/trading-gateway/delta"),
		},
		Dispatcher: DispatcherConf{
			MaxSignatureRetries: e.int("MAX_SIGNATURE_RETRIES", 3),
			RetryBaseDelay:      e.dur("RETRY_BASE_DELAY", 250*time.Millisecond),
			RetryMaxDelay:       e.dur("RETRY_MAX_DELAY", 2*time.Second),
			HTTPTimeout:         e.dur("HTTP_TIMEOUT", 10*time.Second),
			RateLimit:           e.float("VENUE_RATE_LIMIT", 10),
		},
		Clock: ClockConf{
			SafetyBuffer: e.dur("CLOCK_SAFETY_BUFFER", 5*time.Second),
			RetryStep:    e.dur("CLOCK_RETRY_STEP", 10*time.Second),
			SyncInterval: e.dur("CLOCK_SYNC_INTERVAL", 5*time.Minute),
		},
		Risk: RiskConf{
			MaxDrawdownPct: e.float("MAX_DRAWDOWN_PCT", 20),
			WarningRatio:   e.float("RISK_WARNING_RATIO", 0.8),
		},
		Alerts: AlertConf{
			RedisURL:     getenv("REDIS_URL"),
			RedisChannel: e.str("REDIS_ALERT_CHANNEL", "gateway:alerts"),
		},
		PollInterval:         e.dur("POLL_INTERVAL", 5*time.Second),
		DBPath:               e.str("DB_PATH", "./data/gateway.db"),
		JWTSecret:            e.str("JWT_SECRET", "dev-secret"),
		OperatorPasswordHash: getenv("OPERATOR_PASSWORD_HASH"),
	}
	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}

	if path := getenv("GATEWAY_CONFIG"); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Overlay merges the YAML file at path over cfg. Keys absent from the file
// keep their current values.
func (c *Config) Overlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Dispatcher.MaxSignatureRetries < 1 {
		errs = append(errs, errors.New("max_signature_retries must be >= 1"))
	}
	if c.Dispatcher.RetryBaseDelay <= 0 || c.Dispatcher.RetryMaxDelay < c.Dispatcher.RetryBaseDelay {
		errs = append(errs, errors.New("retry delays must be positive with max >= base"))
	}
	if c.Dispatcher.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http_timeout must be positive"))
	}
	if c.Clock.SafetyBuffer < 0 || c.Clock.RetryStep <= 0 || c.Clock.SyncInterval <= 0 {
		errs = append(errs, errors.New("clock settings must be positive"))
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		errs = append(errs, errors.New("max_drawdown_pct must be in (0, 100]"))
	}
	if c.Risk.WarningRatio <= 0 || c.Risk.WarningRatio > 1 {
		errs = append(errs, errors.New("warning_ratio must be in (0, 1]"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	switch c.Credentials.Source {
	case "env":
	case "vault":
		if c.Credentials.VaultAddr == "" || c.Credentials.VaultPath == "" {
			errs = append(errs, errors.New("vault source needs VAULT_ADDR and VAULT_SECRET_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown credential source %q", c.Credentials.Source))
	}
	return errors.Join(errs...)
}

type envReader struct {
	get  func(string) string
	errs []error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return i
}

func (e *envReader) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

// dur accepts Go durations ("250ms") or bare seconds ("5").
func (e *envReader) dur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return time.Duration(secs * float64(time.Second))
}
