// Package config loads engine configuration from YAML. The file is read
// once at startup; the engine never mutates it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/aretw0/lattice/pkg/checkpoint"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/escalation"
	"github.com/aretw0/lattice/pkg/health"
	"gopkg.in/yaml.v3"
)

// Config aggregates every tunable the engine consumes.
type Config struct {
	Health     health.Config     `yaml:"health"`
	Escalation escalation.Config `yaml:"escalation"`
	Checkpoint checkpoint.Policy `yaml:"checkpoint"`
	Budget     domain.Budget     `yaml:"budget"`

	// RecursionLimit caps nested composition launches.
	RecursionLimit int `yaml:"recursion_limit"`

	// Verifier tunes semantic condition checks.
	Verifier VerifierConfig `yaml:"verifier"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// VerifierConfig tunes the semantic verifier integration.
type VerifierConfig struct {
	// ConfidenceThreshold is the minimum confidence for a semantic check
	// to count as passed.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Timeout bounds each verifier call.
	Timeout time.Duration `yaml:"timeout"`

	// URL points at an HTTP-backed verifier; empty means none configured.
	URL string `yaml:"url"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Health:         health.DefaultConfig(),
		Escalation:     escalation.DefaultConfig(),
		Checkpoint:     checkpoint.DefaultPolicy(),
		RecursionLimit: 8,
		Verifier: VerifierConfig{
			ConfidenceThreshold: 0.7,
			Timeout:             30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults. Absent fields keep
// their default values; a missing file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RecursionLimit <= 0 {
		return fmt.Errorf("recursion_limit must be positive")
	}
	if c.Verifier.ConfidenceThreshold < 0 || c.Verifier.ConfidenceThreshold > 1 {
		return fmt.Errorf("verifier confidence_threshold must be in [0,1]")
	}
	if c.Health.FloorPenalty != nil && *c.Health.FloorPenalty < 0 {
		return fmt.Errorf("health floor_penalty must not be negative")
	}
	for component, w := range c.Health.Weights {
		if w < 0 {
			return fmt.Errorf("health weight for %q must not be negative", component)
		}
	}
	return nil
}
