// Package config loads the engine's YAML configuration: worker pool sizing,
// the normalization policy applied after binary image operations, the
// external-script bridge timeout, and which built-ins are enabled.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"imsec/script"
)

// EngineConfig is the top-level configuration document.
type EngineConfig struct {
	MaxWorkers          int           `yaml:"max_workers"`
	NormalizationPolicy string        `yaml:"normalization_policy"`
	BridgeTimeout       time.Duration `yaml:"bridge_timeout"`
	EnabledBuiltins     []string      `yaml:"enabled_builtins"`
	Verbose             bool          `yaml:"verbose"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		MaxWorkers:          0,
		NormalizationPolicy: "rebase",
		BridgeTimeout:       30 * time.Second,
		EnabledBuiltins:     nil,
		Verbose:             false,
	}
}

// Load reads and parses a YAML config file, keeping the default for any
// field the file does not set.
func Load(path string) (*EngineConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Policy translates the configured policy name to a script.NormalizationPolicy,
// defaulting to rebase for an empty or unrecognized value.
func (c *EngineConfig) Policy() script.NormalizationPolicy {
	switch c.NormalizationPolicy {
	case "clamp":
		return script.NormalizeClamp
	case "none":
		return script.NormalizeNone
	default:
		return script.NormalizeRebase
	}
}

// BuiltinEnabled reports whether name is permitted to run under this
// config. An empty EnabledBuiltins list means every built-in is enabled.
func (c *EngineConfig) BuiltinEnabled(name string) bool {
	if len(c.EnabledBuiltins) == 0 {
		return true
	}
	for _, n := range c.EnabledBuiltins {
		if n == name {
			return true
		}
	}
	return false
}
