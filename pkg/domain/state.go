package domain

import "time"

// RunStatus defines the state machine of one composition run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunEscalated RunStatus = "escalated" // suspended, waiting for an external decision
	RunAborted   RunStatus = "aborted"
)

// Terminal reports whether the run can make no further progress.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunAborted
}

// Usage accumulates the resources a run has consumed.
type Usage struct {
	Tokens  int64         `json:"tokens"`
	Elapsed time.Duration `json:"elapsed"`
	Steps   int           `json:"steps"`
}

// Budget caps the resources a run may consume. Zero fields mean unlimited.
type Budget struct {
	MaxTokens int64         `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	MaxTime   time.Duration `json:"max_time,omitempty" yaml:"max_time,omitempty"`
	MaxSteps  int           `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
}

// TraceEvent is one entry of the ordered per-run event log.
type TraceEvent struct {
	Seq       int            `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	StepID    string         `json:"step_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// PendingGate records why a run is suspended and what it is waiting for.
type PendingGate struct {
	OperatorID  string      `json:"operator_id"`
	OnFail      GateOnFail  `json:"on_fail"`
	Diagnostic  *Diagnostic `json:"diagnostic,omitempty"`
	SuspendedAt time.Time   `json:"suspended_at"`
}

// ExecutionState is the full mutable state of one in-flight run.
// It is owned by exactly one Composition Executor run and never shared
// across concurrent runs. Its final form is persisted only via a
// Checkpoint or an Episode.
type ExecutionState struct {
	RunID         string    `json:"run_id"`
	CompositionID string    `json:"composition_id"`
	Status        RunStatus `json:"status"`

	// Cursor indexes the next operator to execute.
	Cursor int `json:"cursor"`

	// Completed holds the ids of finished steps.
	Completed []string `json:"completed,omitempty"`

	// Outputs maps step id to that step's output value.
	Outputs map[string]any `json:"outputs,omitempty"`

	// Inputs are the caller-supplied run inputs, read-only after start.
	Inputs map[string]any `json:"inputs,omitempty"`

	Usage  Usage        `json:"usage"`
	Events []TraceEvent `json:"events,omitempty"`

	// Depth counts nested composition launches; enforced against a hard cap
	// so self-referential compositions cannot recurse unbounded.
	Depth int `json:"depth"`

	// ConsecutiveFailures counts blocking step failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// PendingGate is set while Status == RunEscalated.
	PendingGate *PendingGate `json:"pending_gate,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// NewExecutionState creates a pending state for a fresh run.
func NewExecutionState(runID, compositionID string, inputs map[string]any) *ExecutionState {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &ExecutionState{
		RunID:         runID,
		CompositionID: compositionID,
		Status:        RunPending,
		Outputs:       make(map[string]any),
		Inputs:        inputs,
		StartedAt:     time.Now().UTC(),
	}
}

// MarkCompleted records a finished step id exactly once.
func (s *ExecutionState) MarkCompleted(stepID string) {
	for _, id := range s.Completed {
		if id == stepID {
			return
		}
	}
	s.Completed = append(s.Completed, stepID)
}

// AppendEvent adds an entry to the ordered event log.
func (s *ExecutionState) AppendEvent(kind, stepID string, detail map[string]any) {
	s.Events = append(s.Events, TraceEvent{
		Seq:       len(s.Events),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		StepID:    stepID,
		Detail:    detail,
	})
}
