package domain

// CheckKind classifies how a condition is evaluated.
type CheckKind string

const (
	CheckType       CheckKind = "type"       // value has the declared type
	CheckValue      CheckKind = "value"      // expression over step outputs
	CheckState      CheckKind = "state"      // assertion over the accumulated run state
	CheckStructural CheckKind = "structural" // shape of a value (fields present, non-empty)
	CheckSemantic   CheckKind = "semantic"   // delegated to an external verifier
	CheckTemporal   CheckKind = "temporal"   // ordering/timing assertion over the event log
	CheckEvidence   CheckKind = "evidence"   // a ledger entry of a given kind must exist
)

// Severity controls whether a failing condition blocks progression.
type Severity string

const (
	SeverityError   Severity = "error"   // failure blocks the step
	SeverityWarning Severity = "warning" // failure is recorded, execution continues
	SeverityInfo    Severity = "info"    // failure is recorded, execution continues
)

// Fallback names the strategy used when a condition cannot be evaluated
// (e.g. the semantic verifier is unavailable).
type Fallback string

const (
	FallbackNone        Fallback = ""
	FallbackLLMAssisted Fallback = "llm_assisted"
	FallbackHumanReview Fallback = "human_review"
	FallbackSkip        Fallback = "skip"
)

// Condition is a single machine-checkable (or externally verified)
// requirement attached to a primitive contract or a gate.
// Conditions are pure predicates over an execution snapshot.
type Condition struct {
	ID          string    `json:"id" yaml:"id"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        CheckKind `json:"kind" yaml:"kind"`
	Severity    Severity  `json:"severity" yaml:"severity"`
	Automatable bool      `json:"automatable,omitempty" yaml:"automatable,omitempty"`
	Fallback    Fallback  `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// Expression drives value/state/temporal checks, e.g. "stepA.score > 0.5".
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Field and Type drive type checks ("score" must be a "number").
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`

	// RequiredFields drives structural checks.
	RequiredFields []string `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`

	// Requirement and Questions drive semantic checks.
	Requirement string   `json:"requirement,omitempty" yaml:"requirement,omitempty"`
	Questions   []string `json:"questions,omitempty" yaml:"questions,omitempty"`

	// EvidenceKind drives evidence checks: an entry of this kind must have
	// been appended to the ledger for the current run.
	EvidenceKind string `json:"evidence_kind,omitempty" yaml:"evidence_kind,omitempty"`
}

// Blocking reports whether a failure of this condition halts the step.
func (c Condition) Blocking() bool {
	return c.Severity == SeverityError || c.Severity == ""
}
