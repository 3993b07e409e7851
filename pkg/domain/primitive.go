package domain

import (
	"context"

	"github.com/aretw0/lattice/pkg/schema"
)

// Invocation carries the isolated input binding for one primitive call.
// Branches of parallel/map operators each receive their own Invocation and
// share no mutable state.
type Invocation struct {
	// RunID identifies the owning run (correlation for the evidence ledger).
	RunID string

	// StepID is the composition-local id of the step being executed.
	StepID string

	// Inputs are the resolved input values after reference binding.
	Inputs map[string]any

	// Item and Index are set only for map-operator invocations.
	Item  any
	Index int
}

// Body is the callable implementation of a primitive.
// It returns the primitive's output value as a field map.
type Body func(ctx context.Context, inv Invocation) (map[string]any, error)

// Primitive is an atomic, contract-bearing unit of work.
// It is immutable once registered; the registry copies on register and lookup.
type Primitive struct {
	ID          string
	Description string

	// InputSchema and OutputSchema structurally validate the invocation's
	// inputs and outputs. A nil schema means no structural check.
	InputSchema  *schema.Schema
	OutputSchema *schema.Schema

	Preconditions  []Condition
	Postconditions []Condition
	Invariants     []Condition

	Confidence Confidence

	// CostTokens is the declared per-call token cost, reserved against the
	// run budget before the body executes.
	CostTokens int64

	Body Body
}

// Clone returns a deep-enough copy for registry isolation: condition slices
// are copied so callers cannot mutate registered contracts. Schemas and the
// body are immutable by convention and shared.
func (p Primitive) Clone() Primitive {
	cp := p
	cp.Preconditions = append([]Condition(nil), p.Preconditions...)
	cp.Postconditions = append([]Condition(nil), p.Postconditions...)
	cp.Invariants = append([]Condition(nil), p.Invariants...)
	return cp
}
