package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/lattice/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lattice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
health:
  floor_penalty: 0.2
  weights:
    contracts: 0.5
    execution: 0.3
    budget: 0.2
escalation:
  manual_score_floor: 0.1
  max_consecutive_failures: 5
checkpoint:
  interval: 3
  auto_rollback: false
budget:
  max_tokens: 100000
  max_steps: 200
recursion_limit: 4
verifier:
  confidence_threshold: 0.85
  timeout: 10s
log_level: debug
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Health.FloorPenalty)
	assert.Equal(t, 0.2, *cfg.Health.FloorPenalty)
	assert.Equal(t, 0.5, cfg.Health.Weights["contracts"])
	assert.Equal(t, 0.1, cfg.Escalation.ManualScoreFloor)
	assert.Equal(t, 5, cfg.Escalation.MaxConsecutiveFailures)
	assert.Equal(t, 3, cfg.Checkpoint.Interval)
	assert.False(t, cfg.Checkpoint.AutoRollback)
	assert.Equal(t, int64(100000), cfg.Budget.MaxTokens)
	assert.Equal(t, 4, cfg.RecursionLimit)
	assert.Equal(t, 0.85, cfg.Verifier.ConfidenceThreshold)
	assert.Equal(t, 10*time.Second, cfg.Verifier.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_AbsentFieldsKeepDefaults(t *testing.T) {
	path := writeConfig(t, "log_level: warn\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def.Escalation, cfg.Escalation)
	assert.Equal(t, def.Checkpoint, cfg.Checkpoint)
	assert.Equal(t, def.RecursionLimit, cfg.RecursionLimit)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"recursion":  "recursion_limit: 0\n",
		"confidence": "verifier:\n  confidence_threshold: 1.5\n",
		"weights":    "health:\n  weights:\n    contracts: -1\n",
		"floor":      "health:\n  floor_penalty: -0.1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
