package domain

// OperatorKind enumerates the seven control-flow combinators.
// The set is closed: the interpreter dispatches over exactly these kinds and
// the compiler rejects anything else before a run starts.
type OperatorKind string

const (
	OpSequence  OperatorKind = "sequence"
	OpParallel  OperatorKind = "parallel"
	OpGate      OperatorKind = "gate"
	OpIterate   OperatorKind = "iterate"
	OpMap       OperatorKind = "map"
	OpAggregate OperatorKind = "aggregate"
	OpFilter    OperatorKind = "filter"
)

// OperatorKinds lists all valid kinds, in documentation order.
var OperatorKinds = []OperatorKind{
	OpSequence, OpParallel, OpGate, OpIterate, OpMap, OpAggregate, OpFilter,
}

// GateOnFail selects the gate's behavior when a condition fails.
type GateOnFail string

const (
	GateAbort    GateOnFail = "abort_with_diagnostic"
	GateEscalate GateOnFail = "escalate_to_human"
	GateContinue GateOnFail = "continue"
	GateFlag     GateOnFail = "flag_for_review"
)

// StepRef binds a primitive into a composition at a named step.
// Input values may be literals or references ("$inputs.x", "$steps.a.score",
// "$item", "$index", "$decision") resolved at invocation time.
type StepRef struct {
	ID        string         `json:"id" yaml:"id"`
	Primitive string         `json:"primitive" yaml:"primitive"`
	Inputs    map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// SequenceOp executes steps in order, aborting on the first blocking failure.
type SequenceOp struct {
	Steps []StepRef `json:"steps" yaml:"steps"`
}

// ParallelOp executes all steps concurrently and collects every result;
// one branch failing never cancels its siblings.
type ParallelOp struct {
	Steps []StepRef `json:"steps" yaml:"steps"`
}

// GateOp evaluates conditions over the accumulated outputs of its input steps.
type GateOp struct {
	Inputs     []string    `json:"inputs" yaml:"inputs"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	OnFail     GateOnFail  `json:"on_fail" yaml:"on_fail"`
}

// IterateOp repeats its steps up to MaxIterations rounds, re-evaluating
// ExitCondition after each round. It never loops unbounded.
type IterateOp struct {
	Steps         []StepRef `json:"steps" yaml:"steps"`
	MaxIterations int       `json:"max_iterations" yaml:"max_iterations"`
	ExitCondition string    `json:"exit_condition,omitempty" yaml:"exit_condition,omitempty"`
}

// MapOp fans one primitive out over a named collection, concurrently.
// Over is a reference to a collection value ("$inputs.items", "$steps.a.findings").
type MapOp struct {
	Step StepRef `json:"step" yaml:"step"`
	Over string  `json:"over" yaml:"over"`
}

// AggregateOp merges the outputs of prior steps with a named pure reducer.
type AggregateOp struct {
	Steps    []string `json:"steps" yaml:"steps"`
	Strategy string   `json:"strategy" yaml:"strategy"`
}

// FilterOp selects the elements of a prior step's collection that satisfy a
// named predicate. It never mutates the source collection.
type FilterOp struct {
	Step      string `json:"step" yaml:"step"`
	Field     string `json:"field,omitempty" yaml:"field,omitempty"`
	Predicate string `json:"predicate" yaml:"predicate"`
}

// Operator is a tagged union over the seven combinator kinds.
// Exactly one variant pointer is populated, selected by Kind.
type Operator struct {
	ID   string       `json:"id" yaml:"id"`
	Kind OperatorKind `json:"kind" yaml:"kind"`

	Sequence  *SequenceOp  `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Parallel  *ParallelOp  `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	Gate      *GateOp      `json:"gate,omitempty" yaml:"gate,omitempty"`
	Iterate   *IterateOp   `json:"iterate,omitempty" yaml:"iterate,omitempty"`
	Map       *MapOp       `json:"map,omitempty" yaml:"map,omitempty"`
	Aggregate *AggregateOp `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	Filter    *FilterOp    `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Steps returns the step references executed by this operator, if any.
func (o Operator) Steps() []StepRef {
	switch o.Kind {
	case OpSequence:
		if o.Sequence != nil {
			return o.Sequence.Steps
		}
	case OpParallel:
		if o.Parallel != nil {
			return o.Parallel.Steps
		}
	case OpIterate:
		if o.Iterate != nil {
			return o.Iterate.Steps
		}
	case OpMap:
		if o.Map != nil {
			return []StepRef{o.Map.Step}
		}
	}
	return nil
}

// Composition is a named graph of primitives connected by operators.
// Definitions are configuration-time data, read-only during execution.
type Composition struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Primitives  []string `json:"primitives" yaml:"primitives"`

	// Operators execute in listed order; each is one unit of progress for
	// the step-wise executor.
	Operators []Operator `json:"operators" yaml:"operators"`

	// Patterns are selection tags only; they are never executed.
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
}
