package compiler

import (
	"fmt"
	"strings"

	"github.com/aretw0/lattice/pkg/domain"
)

var validOnFail = map[domain.GateOnFail]bool{
	domain.GateAbort:    true,
	domain.GateEscalate: true,
	domain.GateContinue: true,
	domain.GateFlag:     true,
}

// Validate statically checks a composition graph: duplicate ids, unknown
// primitive references, malformed operator bodies, and forward references
// into outputs that cannot exist yet. All findings are collected before
// reporting, so one pass surfaces every problem in a document.
// knownPrimitives may be nil to skip primitive resolution.
func Validate(comp domain.Composition, knownPrimitives map[string]bool) error {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if comp.ID == "" {
		report("composition missing id")
	}
	if len(comp.Operators) == 0 {
		report("composition %q has no operators", comp.ID)
	}

	operatorIDs := make(map[string]bool)
	stepIDs := make(map[string]bool)

	checkStep := func(opID string, step domain.StepRef) {
		if step.ID == "" {
			report("operator %q: step missing id", opID)
			return
		}
		if stepIDs[step.ID] || operatorIDs[step.ID] {
			report("operator %q: duplicate step id %q", opID, step.ID)
		}
		stepIDs[step.ID] = true
		if step.Primitive == "" {
			report("step %q: missing primitive", step.ID)
		} else if knownPrimitives != nil && !knownPrimitives[step.Primitive] {
			report("step %q: unknown primitive %q", step.ID, step.Primitive)
		}
	}
	defined := func(id string) bool {
		return stepIDs[id] || operatorIDs[id]
	}

	for _, op := range comp.Operators {
		if op.ID == "" {
			report("operator missing id")
			continue
		}
		if operatorIDs[op.ID] || stepIDs[op.ID] {
			report("duplicate operator id %q", op.ID)
		}

		switch op.Kind {
		case domain.OpSequence:
			if op.Sequence == nil || len(op.Sequence.Steps) == 0 {
				report("sequence %q has no steps", op.ID)
				break
			}
			for _, s := range op.Sequence.Steps {
				checkStep(op.ID, s)
			}

		case domain.OpParallel:
			if op.Parallel == nil || len(op.Parallel.Steps) == 0 {
				report("parallel %q has no steps", op.ID)
				break
			}
			for _, s := range op.Parallel.Steps {
				checkStep(op.ID, s)
			}

		case domain.OpGate:
			if op.Gate == nil {
				report("gate %q has no body", op.ID)
				break
			}
			if len(op.Gate.Conditions) == 0 {
				report("gate %q has no conditions", op.ID)
			}
			for _, c := range op.Gate.Conditions {
				if c.ID == "" {
					report("gate %q: condition missing id", op.ID)
				}
			}
			for _, in := range op.Gate.Inputs {
				if !defined(in) {
					report("gate %q: input %q is not a prior step", op.ID, in)
				}
			}
			if op.Gate.OnFail != "" && !validOnFail[op.Gate.OnFail] {
				report("gate %q: invalid on_fail %q", op.ID, op.Gate.OnFail)
			}

		case domain.OpIterate:
			if op.Iterate == nil || len(op.Iterate.Steps) == 0 {
				report("iterate %q has no steps", op.ID)
				break
			}
			if op.Iterate.MaxIterations <= 0 {
				report("iterate %q: max_iterations must be positive", op.ID)
			}
			for _, s := range op.Iterate.Steps {
				checkStep(op.ID, s)
			}

		case domain.OpMap:
			if op.Map == nil {
				report("map %q has no body", op.ID)
				break
			}
			if op.Map.Over == "" {
				report("map %q: missing over", op.ID)
			} else if !strings.HasPrefix(op.Map.Over, "$") {
				report("map %q: over must be a reference, got %q", op.ID, op.Map.Over)
			}
			checkStep(op.ID, op.Map.Step)

		case domain.OpAggregate:
			if op.Aggregate == nil || len(op.Aggregate.Steps) == 0 {
				report("aggregate %q has no input steps", op.ID)
				break
			}
			if op.Aggregate.Strategy == "" {
				report("aggregate %q: missing strategy", op.ID)
			}
			for _, in := range op.Aggregate.Steps {
				if !defined(in) {
					report("aggregate %q: input %q is not a prior step", op.ID, in)
				}
			}

		case domain.OpFilter:
			if op.Filter == nil {
				report("filter %q has no body", op.ID)
				break
			}
			if op.Filter.Step == "" {
				report("filter %q: missing step", op.ID)
			} else if !defined(op.Filter.Step) {
				report("filter %q: step %q is not a prior step", op.ID, op.Filter.Step)
			}
			if op.Filter.Predicate == "" {
				report("filter %q: missing predicate", op.ID)
			}

		default:
			report("operator %q: unknown kind %q", op.ID, op.Kind)
		}

		operatorIDs[op.ID] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("found %d problems:\n- %s", len(problems), strings.Join(problems, "\n- "))
	}
	return nil
}
