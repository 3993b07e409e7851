// Package escalation maps health and failure signals to an escalation
// level and its required action. The controller is a pure function of
// (score, trigger flags, configuration): identical inputs always produce
// the identical decision, which keeps per-environment tuning and testing
// deterministic.
package escalation

import (
	"fmt"
	"time"

	"github.com/aretw0/lattice/pkg/health"
)

// Level is the escalation ordinal: 0 (autonomous) .. 3 (manual).
type Level int

const (
	LevelAutonomous   Level = 0 // continue without interruption
	LevelAdvisory     Level = 1 // continue, emit an async notification
	LevelConfirmation Level = 2 // pause, require explicit approval
	LevelManual       Level = 3 // full stop, trigger rollback, alert
)

func (l Level) String() string {
	switch l {
	case LevelAutonomous:
		return "autonomous"
	case LevelAdvisory:
		return "advisory"
	case LevelConfirmation:
		return "confirmation"
	case LevelManual:
		return "manual"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Action is what the executor must do with a decision.
type Action string

const (
	ActionContinue Action = "continue"
	ActionNotify   Action = "notify"
	ActionPause    Action = "pause"
	ActionStop     Action = "stop"
)

// Config carries every threshold the decision tree consults. All values are
// externally supplied; the controller has no module-level constants.
type Config struct {
	// ManualScoreFloor: overall health below this forces level 3.
	ManualScoreFloor float64 `yaml:"manual_score_floor"`

	// Drop thresholds compare health against the last checkpoint.
	// A cumulative drop at or beyond ManualDropThreshold forces level 3;
	// ConfirmDropThreshold and AdvisoryDropThreshold gate levels 2 and 1.
	ManualDropThreshold   float64 `yaml:"manual_drop_threshold"`
	ConfirmDropThreshold  float64 `yaml:"confirm_drop_threshold"`
	AdvisoryDropThreshold float64 `yaml:"advisory_drop_threshold"`

	// MaxConsecutiveFailures at or beyond this count forces level 2.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// MaxChangedSurfaces: a change touching more surfaces than this forces level 2.
	MaxChangedSurfaces int `yaml:"max_changed_surfaces"`

	// ApprovalTimeout bounds how long a confirmation pause may wait.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

// DefaultConfig returns conservative defaults suitable for tests and
// development. Production deployments tune these per environment.
func DefaultConfig() Config {
	return Config{
		ManualScoreFloor:       0.2,
		ManualDropThreshold:    0.3,
		ConfirmDropThreshold:   0.15,
		AdvisoryDropThreshold:  0.05,
		MaxConsecutiveFailures: 3,
		MaxChangedSurfaces:     10,
		ApprovalTimeout:        30 * time.Minute,
	}
}

// Signals are the trigger flags evaluated after every step or cycle. The
// executor derives the health and failure signals; HighRisk, ChangedSurfaces
// and DistributionShift come from the embedding caller.
type Signals struct {
	Health health.Score

	// DropSinceCheckpoint is the cumulative health drop since the last
	// checkpoint was taken.
	DropSinceCheckpoint float64

	ConsecutiveFailures int

	// HighRisk marks any detected high-risk condition.
	HighRisk bool

	// ChangedSurfaces counts files/surfaces touched by the current change.
	ChangedSurfaces int

	// NewFailureClass marks the first occurrence of a failure class in this run.
	NewFailureClass bool

	// DistributionShift marks a detected input distribution shift.
	DistributionShift bool

	// RollbackFailed escalates unconditionally to manual.
	RollbackFailed bool
}

// Decision pairs the chosen level with its required action and the
// reasons that triggered it.
type Decision struct {
	Level   Level    `json:"level"`
	Action  Action   `json:"action"`
	Reasons []string `json:"reasons,omitempty"`
}

// Decide walks the decision tree top-down: manual, confirmation, advisory,
// autonomous. Pure; no side effects, no clocks.
func Decide(cfg Config, sig Signals) Decision {
	// Level 3: full stop.
	if sig.RollbackFailed {
		return Decision{LevelManual, ActionStop, []string{"rollback failure"}}
	}
	if sig.Health.Overall < cfg.ManualScoreFloor {
		return Decision{LevelManual, ActionStop,
			[]string{fmt.Sprintf("health %.3f below manual floor %.3f", sig.Health.Overall, cfg.ManualScoreFloor)}}
	}
	if cfg.ManualDropThreshold > 0 && sig.DropSinceCheckpoint >= cfg.ManualDropThreshold {
		return Decision{LevelManual, ActionStop,
			[]string{fmt.Sprintf("health drop %.3f beyond manual threshold %.3f", sig.DropSinceCheckpoint, cfg.ManualDropThreshold)}}
	}

	// Level 2: pause for explicit approval.
	var confirm []string
	if cfg.ConfirmDropThreshold > 0 && sig.DropSinceCheckpoint >= cfg.ConfirmDropThreshold {
		confirm = append(confirm, fmt.Sprintf("health drop %.3f beyond confirmation threshold %.3f", sig.DropSinceCheckpoint, cfg.ConfirmDropThreshold))
	}
	if cfg.MaxConsecutiveFailures > 0 && sig.ConsecutiveFailures >= cfg.MaxConsecutiveFailures {
		confirm = append(confirm, fmt.Sprintf("%d consecutive failures", sig.ConsecutiveFailures))
	}
	if sig.HighRisk {
		confirm = append(confirm, "high-risk condition detected")
	}
	if cfg.MaxChangedSurfaces > 0 && sig.ChangedSurfaces > cfg.MaxChangedSurfaces {
		confirm = append(confirm, fmt.Sprintf("change touches %d surfaces (limit %d)", sig.ChangedSurfaces, cfg.MaxChangedSurfaces))
	}
	if len(confirm) > 0 {
		return Decision{LevelConfirmation, ActionPause, confirm}
	}

	// Level 1: continue with an async notification.
	var advisory []string
	if cfg.AdvisoryDropThreshold > 0 && sig.DropSinceCheckpoint >= cfg.AdvisoryDropThreshold {
		advisory = append(advisory, fmt.Sprintf("health drop %.3f beyond advisory threshold %.3f", sig.DropSinceCheckpoint, cfg.AdvisoryDropThreshold))
	}
	if sig.NewFailureClass {
		advisory = append(advisory, "first occurrence of a new failure class")
	}
	if sig.DistributionShift {
		advisory = append(advisory, "distribution shift detected")
	}
	if len(advisory) > 0 {
		return Decision{LevelAdvisory, ActionNotify, advisory}
	}

	return Decision{LevelAutonomous, ActionContinue, nil}
}
