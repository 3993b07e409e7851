package domain

import "time"

// StepStatus classifies the outcome of one step within an episode.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult is one entry of an episode's ordered step log.
type StepResult struct {
	StepID    string         `json:"step_id"`
	Primitive string         `json:"primitive,omitempty"`
	Status    StepStatus     `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`

	// ConditionIDs lists the contract conditions that failed, if any.
	ConditionIDs []string `json:"condition_ids,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Episode is the append-only audit record of one composition run.
// It is owned by the Episode Recorder; the executor only appends.
type Episode struct {
	RunID         string         `json:"run_id"`
	CompositionID string         `json:"composition_id"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	Steps         []StepResult   `json:"steps,omitempty"`
	Status        RunStatus      `json:"status"`
	Error         string         `json:"error,omitempty"`

	// FlaggedForReview marks the episode for asynchronous human review
	// (set by a gate resolving to flag_for_review).
	FlaggedForReview bool   `json:"flagged_for_review,omitempty"`
	ReviewReason     string `json:"review_reason,omitempty"`

	// Rollbacks lists the checkpoint ids this run was restored from.
	Rollbacks []string `json:"rollbacks,omitempty"`

	Usage     Usage     `json:"usage"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}
