package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for taxonomy checks with errors.Is. The typed errors below
// unwrap to these, so callers can branch on the class without losing the
// diagnostic payload.
var (
	ErrSchemaViolation      = errors.New("schema violation")
	ErrPreconditionFailure  = errors.New("precondition failure")
	ErrPostconditionFailure = errors.New("postcondition failure")
	ErrInvariantFailure     = errors.New("invariant failure")
	ErrGateAbort            = errors.New("gate abort")
	ErrBudgetExhausted      = errors.New("budget exhausted")
	ErrUnknownOperator      = errors.New("unknown operator kind")
	ErrCheckpointIntegrity  = errors.New("checkpoint integrity failure")
	ErrRollbackFailure      = errors.New("rollback failure")
	ErrApprovalTimeout      = errors.New("approval timed out")

	ErrCheckpointNotFound  = errors.New("checkpoint not found")
	ErrRunNotFound         = errors.New("run not found")
	ErrRunNotSuspended     = errors.New("run is not suspended")
	ErrPrimitiveNotFound   = errors.New("primitive not found")
	ErrCompositionNotFound = errors.New("composition not found")
	ErrRecursionLimit      = errors.New("recursion depth limit exceeded")
)

// Diagnostic carries enough context to reproduce a terminal failure:
// the originating condition ids, the step at which it occurred, and a
// snapshot of the values involved. Failures are never reported without it.
type Diagnostic struct {
	StepID       string         `json:"step_id,omitempty"`
	OperatorID   string         `json:"operator_id,omitempty"`
	ConditionIDs []string       `json:"condition_ids,omitempty"`
	Reason       string         `json:"reason"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
}

func (d *Diagnostic) String() string {
	if d == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(d.Reason)
	if d.StepID != "" {
		fmt.Fprintf(&sb, " (step %s)", d.StepID)
	}
	if len(d.ConditionIDs) > 0 {
		fmt.Fprintf(&sb, " [conditions: %s]", strings.Join(d.ConditionIDs, ", "))
	}
	return sb.String()
}

// SchemaViolationError reports a structural validation failure on a
// primitive's inputs or outputs. Always blocking.
type SchemaViolationError struct {
	StepID    string
	Primitive string
	Direction string // "input" or "output"
	Err       error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation on %s of %s (step %s): %v", e.Direction, e.Primitive, e.StepID, e.Err)
}

func (e *SchemaViolationError) Unwrap() error { return ErrSchemaViolation }

// ContractPhase names where in the check order a condition failed.
type ContractPhase string

const (
	PhasePrecondition  ContractPhase = "precondition"
	PhasePostcondition ContractPhase = "postcondition"
	PhaseInvariant     ContractPhase = "invariant"
)

// ConditionFailureError reports a blocking condition failure with its
// diagnostic payload. Warning/info failures are recorded, not raised.
type ConditionFailureError struct {
	Phase      ContractPhase
	Condition  Condition
	Diagnostic *Diagnostic
}

func (e *ConditionFailureError) Error() string {
	return fmt.Sprintf("%s %q failed: %s", e.Phase, e.Condition.ID, e.Diagnostic.String())
}

func (e *ConditionFailureError) Unwrap() error {
	switch e.Phase {
	case PhasePostcondition:
		return ErrPostconditionFailure
	case PhaseInvariant:
		return ErrInvariantFailure
	default:
		return ErrPreconditionFailure
	}
}

// GateAbortError is raised by a gate resolving to abort_with_diagnostic.
// It terminates the run; no subsequent step executes.
type GateAbortError struct {
	Diagnostic *Diagnostic
}

func (e *GateAbortError) Error() string {
	return "gate abort: " + e.Diagnostic.String()
}

func (e *GateAbortError) Unwrap() error { return ErrGateAbort }

// BudgetExhaustedError reports a resource cap hit before a step could run.
type BudgetExhaustedError struct {
	Resource string // "tokens", "time" or "steps"
	Used     int64
	Limit    int64
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted: %s used %d of %d", e.Resource, e.Used, e.Limit)
}

func (e *BudgetExhaustedError) Unwrap() error { return ErrBudgetExhausted }

// CheckpointIntegrityError marks a checkpoint as unusable: checksum or
// schema-version mismatch. Such a checkpoint must never be restored.
type CheckpointIntegrityError struct {
	CheckpointID string
	Reason       string
}

func (e *CheckpointIntegrityError) Error() string {
	return fmt.Sprintf("checkpoint %s failed integrity check: %s", e.CheckpointID, e.Reason)
}

func (e *CheckpointIntegrityError) Unwrap() error { return ErrCheckpointIntegrity }

// RollbackFailureError reports that restoration could not complete.
// Restoration is all-or-nothing; this error escalates unconditionally.
type RollbackFailureError struct {
	CheckpointID string
	Err          error
}

func (e *RollbackFailureError) Error() string {
	return fmt.Sprintf("rollback from checkpoint %s failed: %v", e.CheckpointID, e.Err)
}

func (e *RollbackFailureError) Unwrap() error { return ErrRollbackFailure }
