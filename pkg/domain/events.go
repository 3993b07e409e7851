package domain

import (
	"context"
	"time"
)

// RunEvent describes the start or end of a run.
type RunEvent struct {
	RunID         string    `json:"run_id"`
	CompositionID string    `json:"composition_id"`
	Status        RunStatus `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// StepEvent describes one completed unit of progress.
type StepEvent struct {
	RunID      string        `json:"run_id"`
	OperatorID string        `json:"operator_id"`
	Kind       OperatorKind  `json:"kind"`
	StepID     string        `json:"step_id,omitempty"`
	Status     StepStatus    `json:"status"`
	Duration   time.Duration `json:"duration"`
}

// ContractEvent describes a condition failure (any severity).
type ContractEvent struct {
	RunID       string        `json:"run_id"`
	StepID      string        `json:"step_id"`
	ConditionID string        `json:"condition_id"`
	Phase       ContractPhase `json:"phase"`
	Severity    Severity      `json:"severity"`
	Reason      string        `json:"reason"`
}

// CheckpointEvent describes a checkpoint creation or a rollback.
type CheckpointEvent struct {
	RunID        string  `json:"run_id"`
	CheckpointID string  `json:"checkpoint_id"`
	Reason       string  `json:"reason"`
	Health       float64 `json:"health"`
}

// EscalationEvent describes an escalation decision above autonomous.
type EscalationEvent struct {
	RunID  string  `json:"run_id"`
	Level  int     `json:"level"`
	Action string  `json:"action"`
	Health float64 `json:"health"`
	Reason string  `json:"reason"`
}

// LifecycleHooks defines callbacks for engine observability.
// All hooks are optional; nil hooks are skipped.
type LifecycleHooks struct {
	OnRunStart        func(context.Context, *RunEvent)
	OnStep            func(context.Context, *StepEvent)
	OnContractFailure func(context.Context, *ContractEvent)
	OnCheckpoint      func(context.Context, *CheckpointEvent)
	OnRollback        func(context.Context, *CheckpointEvent)
	OnEscalation      func(context.Context, *EscalationEvent)
	OnRunEnd          func(context.Context, *RunEvent)
}
