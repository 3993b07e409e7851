package escalation_test

import (
	"testing"

	"github.com/aretw0/lattice/pkg/escalation"
	"github.com/aretw0/lattice/pkg/health"
	"github.com/stretchr/testify/assert"
)

func sig(overall float64) escalation.Signals {
	return escalation.Signals{Health: health.Score{Overall: overall, Status: health.StatusFor(overall)}}
}

func TestDecide_Autonomous(t *testing.T) {
	d := escalation.Decide(escalation.DefaultConfig(), sig(0.95))
	assert.Equal(t, escalation.LevelAutonomous, d.Level)
	assert.Equal(t, escalation.ActionContinue, d.Action)
	assert.Empty(t, d.Reasons)
}

func TestDecide_ManualOnHealthFloor(t *testing.T) {
	d := escalation.Decide(escalation.DefaultConfig(), sig(0.1))
	assert.Equal(t, escalation.LevelManual, d.Level)
	assert.Equal(t, escalation.ActionStop, d.Action)
}

func TestDecide_ManualOnCumulativeDrop(t *testing.T) {
	// Two consecutive drops of 0.12 and 0.04 accumulate to 0.16 against a
	// manual threshold of 0.15.
	cfg := escalation.DefaultConfig()
	cfg.ManualDropThreshold = 0.15

	s := sig(0.7)
	s.DropSinceCheckpoint = 0.12 + 0.04

	d := escalation.Decide(cfg, s)
	assert.Equal(t, escalation.LevelManual, d.Level)
	assert.Equal(t, escalation.ActionStop, d.Action)
}

func TestDecide_ConfirmationTriggers(t *testing.T) {
	cfg := escalation.DefaultConfig()

	t.Run("health drop", func(t *testing.T) {
		s := sig(0.7)
		s.DropSinceCheckpoint = 0.2
		d := escalation.Decide(cfg, s)
		assert.Equal(t, escalation.LevelConfirmation, d.Level)
		assert.Equal(t, escalation.ActionPause, d.Action)
	})

	t.Run("consecutive failures", func(t *testing.T) {
		s := sig(0.9)
		s.ConsecutiveFailures = 3
		d := escalation.Decide(cfg, s)
		assert.Equal(t, escalation.LevelConfirmation, d.Level)
	})

	t.Run("high risk", func(t *testing.T) {
		s := sig(0.9)
		s.HighRisk = true
		d := escalation.Decide(cfg, s)
		assert.Equal(t, escalation.LevelConfirmation, d.Level)
	})

	t.Run("surface limit", func(t *testing.T) {
		s := sig(0.9)
		s.ChangedSurfaces = 11
		d := escalation.Decide(cfg, s)
		assert.Equal(t, escalation.LevelConfirmation, d.Level)
	})
}

func TestDecide_AdvisoryTriggers(t *testing.T) {
	cfg := escalation.DefaultConfig()

	t.Run("small drop", func(t *testing.T) {
		s := sig(0.85)
		s.DropSinceCheckpoint = 0.06
		d := escalation.Decide(cfg, s)
		assert.Equal(t, escalation.LevelAdvisory, d.Level)
		assert.Equal(t, escalation.ActionNotify, d.Action)
	})

	t.Run("new failure class", func(t *testing.T) {
		s := sig(0.9)
		s.NewFailureClass = true
		d := escalation.Decide(cfg, s)
		assert.Equal(t, escalation.LevelAdvisory, d.Level)
	})

	t.Run("distribution shift", func(t *testing.T) {
		s := sig(0.9)
		s.DistributionShift = true
		d := escalation.Decide(cfg, s)
		assert.Equal(t, escalation.LevelAdvisory, d.Level)
	})
}

func TestDecide_RollbackFailureIsUnconditionallyManual(t *testing.T) {
	s := sig(1.0)
	s.RollbackFailed = true
	d := escalation.Decide(escalation.DefaultConfig(), s)
	assert.Equal(t, escalation.LevelManual, d.Level)
	assert.Equal(t, escalation.ActionStop, d.Action)
}

func TestDecide_Deterministic(t *testing.T) {
	cfg := escalation.DefaultConfig()
	s := sig(0.6)
	s.DropSinceCheckpoint = 0.07
	s.NewFailureClass = true

	first := escalation.Decide(cfg, s)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, escalation.Decide(cfg, s), "identical inputs must yield identical decisions")
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "autonomous", escalation.LevelAutonomous.String())
	assert.Equal(t, "advisory", escalation.LevelAdvisory.String())
	assert.Equal(t, "confirmation", escalation.LevelConfirmation.String())
	assert.Equal(t, "manual", escalation.LevelManual.String())
}
