package strategy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is one strategy entry in the strategies YAML file.
type Config struct {
	ID         string         `yaml:"id"`
	Type       string         `yaml:"type"` // momentum | ma_cross
	Account    string         `yaml:"account"`
	Symbol     string         `yaml:"symbol"`
	ProductID  int64          `yaml:"product_id"`
	Size       float64        `yaml:"size"`
	Interval   time.Duration  `yaml:"interval"`
	Parameters map[string]any `yaml:"parameters"`
	IsActive   bool           `yaml:"is_active"`
}

// ConfigFile is the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, c := range file.Strategies {
		if c.Symbol == "" || c.Size <= 0 {
			return nil, fmt.Errorf("strategy %d (%s): symbol and positive size are required", i, c.ID)
		}
	}
	return file.Strategies, nil
}

// Build creates the source described by cfg.
func Build(cfg Config, feed PriceFeed) (SignalSource, error) {
	switch cfg.Type {
	case "momentum", "":
		return NewMomentum(feed, cfg.Symbol, cfg.ProductID, cfg.Size, param(cfg, "threshold", 0.001)), nil
	case "ma_cross":
		return NewMACross(feed, cfg.Symbol, cfg.ProductID,
			int(param(cfg, "fast", 10)), int(param(cfg, "slow", 30)), cfg.Size)
	default:
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
}

func param(cfg Config, key string, def float64) float64 {
	switch v := cfg.Parameters[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return def
	}
}
