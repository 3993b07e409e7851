// Package contract enforces the machine-checkable side of primitive
// contracts: structural schema validation plus condition evaluation over
// execution snapshots. Semantic conditions are delegated to an injected
// verifier capability, never to an ambient global.
package contract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// CheckStatus is the outcome of one condition check.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusSkipped CheckStatus = "skipped"
	StatusError   CheckStatus = "error"
)

// Result carries one condition check's outcome.
type Result struct {
	ConditionID string      `json:"condition_id"`
	Status      CheckStatus `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	Confidence  float64     `json:"confidence,omitempty"`
}

// Blocking reports whether this result halts progression for the given
// condition: only error-severity conditions block, and only when they did
// not pass. A skipped check never blocks; an errored check always does for
// error severity (it must never be silently treated as passed).
func (r Result) Blocking(c domain.Condition) bool {
	if !c.Blocking() {
		return false
	}
	return r.Status == StatusFailed || r.Status == StatusError
}

// Snapshot is the immutable view of execution a condition is evaluated
// against. Scope holds the visible values (run inputs under "inputs",
// step outputs by step id, the step's own values at the top level).
type Snapshot struct {
	RunID  string
	StepID string
	Scope  map[string]any

	// Events is the run's ordered event log (temporal checks).
	Events []domain.TraceEvent

	// EvidenceKinds holds the ledger entry kinds already recorded for the
	// run (evidence checks).
	EvidenceKinds map[string]bool

	Now time.Time
}

// Validator evaluates schemas and conditions. Stateless per call; safe for
// concurrent use by parallel branches.
type Validator struct {
	verifier  ports.SemanticVerifier
	ledger    ports.EvidenceLedger
	logger    *slog.Logger
	threshold float64
	timeout   time.Duration
}

// Option configures a Validator.
type Option func(*Validator)

// WithVerifier injects the external semantic verifier capability.
func WithVerifier(v ports.SemanticVerifier) Option {
	return func(val *Validator) {
		val.verifier = v
	}
}

// WithLedger mirrors semantic-check verdicts into the evidence ledger.
func WithLedger(l ports.EvidenceLedger) Option {
	return func(val *Validator) {
		val.ledger = l
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(val *Validator) {
		val.logger = logger
	}
}

// WithConfidenceThreshold sets the minimum verifier confidence for a
// semantic check to count as passed (default 0.7).
func WithConfidenceThreshold(t float64) Option {
	return func(val *Validator) {
		val.threshold = t
	}
}

// WithVerifierTimeout bounds each semantic verifier call (default 30s).
func WithVerifierTimeout(d time.Duration) Option {
	return func(val *Validator) {
		val.timeout = d
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		logger:    logging.NewNop(),
		threshold: 0.7,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check evaluates a single condition against a snapshot.
// Type, value, state, structural, temporal and evidence checks run
// synchronously and deterministically; semantic checks call the verifier.
func (v *Validator) Check(ctx context.Context, c domain.Condition, snap Snapshot) Result {
	switch c.Kind {
	case domain.CheckType:
		return v.checkType(c, snap)
	case domain.CheckValue, domain.CheckState:
		return v.checkExpression(c, snap)
	case domain.CheckStructural:
		return v.checkStructural(c, snap)
	case domain.CheckTemporal:
		return v.checkTemporal(c, snap)
	case domain.CheckEvidence:
		return v.checkEvidence(c, snap)
	case domain.CheckSemantic:
		return v.checkSemantic(ctx, c, snap)
	default:
		return Result{ConditionID: c.ID, Status: StatusError, Reason: fmt.Sprintf("unknown check kind %q", c.Kind)}
	}
}

// CheckAll evaluates conditions in order and returns every result plus the
// first blocking condition (error severity, not passed), if any.
func (v *Validator) CheckAll(ctx context.Context, conditions []domain.Condition, snap Snapshot) ([]Result, *domain.Condition, *Result) {
	results := make([]Result, 0, len(conditions))
	for _, c := range conditions {
		r := v.Check(ctx, c, snap)
		results = append(results, r)
		if r.Blocking(c) {
			cc := c
			rr := r
			return results, &cc, &rr
		}
	}
	return results, nil, nil
}

func (v *Validator) checkType(c domain.Condition, snap Snapshot) Result {
	value, found := lookup(snap.Scope, c.Field)
	if !found {
		return Result{ConditionID: c.ID, Status: StatusFailed, Reason: fmt.Sprintf("field %q absent", c.Field)}
	}
	if typeMatches(c.Type, value) {
		return Result{ConditionID: c.ID, Status: StatusPassed, Confidence: 1}
	}
	return Result{ConditionID: c.ID, Status: StatusFailed,
		Reason: fmt.Sprintf("field %q: expected %s, got %T", c.Field, c.Type, value)}
}

func (v *Validator) checkExpression(c domain.Condition, snap Snapshot) Result {
	ok, err := Eval(c.Expression, snap.Scope)
	if err != nil {
		return Result{ConditionID: c.ID, Status: StatusError, Reason: err.Error()}
	}
	if ok {
		return Result{ConditionID: c.ID, Status: StatusPassed, Confidence: 1}
	}
	return Result{ConditionID: c.ID, Status: StatusFailed,
		Reason: fmt.Sprintf("expression %q not satisfied", c.Expression)}
}

func (v *Validator) checkStructural(c domain.Condition, snap Snapshot) Result {
	root := snap.Scope
	if c.Field != "" {
		value, found := lookup(snap.Scope, c.Field)
		if !found {
			return Result{ConditionID: c.ID, Status: StatusFailed, Reason: fmt.Sprintf("value %q absent", c.Field)}
		}
		m, ok := value.(map[string]any)
		if !ok {
			return Result{ConditionID: c.ID, Status: StatusFailed, Reason: fmt.Sprintf("value %q is not an object", c.Field)}
		}
		root = m
	}
	for _, field := range c.RequiredFields {
		if _, found := lookup(root, field); !found {
			return Result{ConditionID: c.ID, Status: StatusFailed, Reason: fmt.Sprintf("required field %q absent", field)}
		}
	}
	return Result{ConditionID: c.ID, Status: StatusPassed, Confidence: 1}
}

// checkTemporal asserts ordering over the event log with the expression
// evaluated against a scope of event kinds mapped to their first sequence
// number, e.g. "first.step_started < first.checkpoint_created".
func (v *Validator) checkTemporal(c domain.Condition, snap Snapshot) Result {
	first := make(map[string]any)
	last := make(map[string]any)
	count := make(map[string]any)
	for _, e := range snap.Events {
		if _, seen := first[e.Kind]; !seen {
			first[e.Kind] = float64(e.Seq)
		}
		last[e.Kind] = float64(e.Seq)
		n, _ := count[e.Kind].(float64)
		count[e.Kind] = n + 1
	}
	scope := map[string]any{"first": first, "last": last, "count": count}

	ok, err := Eval(c.Expression, scope)
	if err != nil {
		return Result{ConditionID: c.ID, Status: StatusError, Reason: err.Error()}
	}
	if ok {
		return Result{ConditionID: c.ID, Status: StatusPassed, Confidence: 1}
	}
	return Result{ConditionID: c.ID, Status: StatusFailed,
		Reason: fmt.Sprintf("temporal expression %q not satisfied", c.Expression)}
}

func (v *Validator) checkEvidence(c domain.Condition, snap Snapshot) Result {
	if snap.EvidenceKinds[c.EvidenceKind] {
		return Result{ConditionID: c.ID, Status: StatusPassed, Confidence: 1}
	}
	return Result{ConditionID: c.ID, Status: StatusFailed,
		Reason: fmt.Sprintf("no ledger evidence of kind %q recorded for run", c.EvidenceKind)}
}

// checkSemantic delegates to the injected verifier. With no verifier
// available the check resolves to skipped only under an explicit skip
// fallback; otherwise it is a blocking error. It never silently passes.
func (v *Validator) checkSemantic(ctx context.Context, c domain.Condition, snap Snapshot) Result {
	if v.verifier == nil {
		if c.Fallback == domain.FallbackSkip {
			return Result{ConditionID: c.ID, Status: StatusSkipped, Reason: "semantic verifier unavailable"}
		}
		return Result{ConditionID: c.ID, Status: StatusError, Reason: "semantic verifier unavailable"}
	}

	vctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	res, err := v.verifier.Verify(vctx, ports.VerifyRequest{
		Requirement: c.Requirement,
		Questions:   c.Questions,
		Context:     snap.Scope,
	})

	result := Result{ConditionID: c.ID}
	switch {
	case err != nil:
		if c.Fallback == domain.FallbackSkip {
			result.Status = StatusSkipped
			result.Reason = fmt.Sprintf("verifier failed: %v", err)
		} else {
			result.Status = StatusError
			result.Reason = fmt.Sprintf("verifier failed: %v", err)
		}
	case !res.Satisfied:
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("requirement %q not satisfied", c.Requirement)
		result.Confidence = res.Confidence
	case res.Confidence < v.threshold:
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("verifier confidence %.2f below threshold %.2f", res.Confidence, v.threshold)
		result.Confidence = res.Confidence
	default:
		result.Status = StatusPassed
		result.Confidence = res.Confidence
	}

	v.audit(ctx, c, snap, result)
	return result
}

// audit mirrors a semantic verdict into the evidence ledger.
// Append failures are logged, never fatal.
func (v *Validator) audit(ctx context.Context, c domain.Condition, snap Snapshot, r Result) {
	if v.ledger == nil {
		return
	}
	err := v.ledger.Append(ctx, ports.LedgerEntry{
		Kind:          "contract.semantic_check",
		CorrelationID: snap.RunID,
		Payload: map[string]any{
			"condition_id": c.ID,
			"step_id":      snap.StepID,
			"status":       string(r.Status),
			"confidence":   r.Confidence,
			"reason":       r.Reason,
		},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		v.logger.Warn("semantic audit append failed", "condition_id", c.ID, "error", err)
	}
}

func typeMatches(typeName string, value any) bool {
	switch typeName {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := asFloat(value)
		return ok
	case "integer":
		f, ok := asFloat(value)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}
