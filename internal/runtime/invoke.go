package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/lattice/pkg/contract"
	"github.com/aretw0/lattice/pkg/domain"
)

// branchContext carries the per-branch binding for map invocations.
// Branches never share it.
type branchContext struct {
	item    any
	index   int
	hasItem bool
	stepID  string
}

// invokeOutcome is the complete, side-effect-free result of one primitive
// call. The caller commits it to run state under the run mutex; parallel
// branches produce outcomes concurrently and commit after joining.
type invokeOutcome struct {
	stepID    string
	primitive string
	output    map[string]any
	result    domain.StepResult

	checksPassed int
	checksFailed int

	err error
}

// invoke executes one primitive under its full contract, in order:
// input schema, preconditions, body, output schema, postconditions,
// invariants. The first blocking failure stops the call; the body never
// runs unless inputs validated, and outputs are never published unless
// the whole chain passed.
func (r *Run) invoke(ctx context.Context, step domain.StepRef, branch *branchContext) invokeOutcome {
	stepID := step.ID
	if branch != nil && branch.stepID != "" {
		stepID = branch.stepID
	}
	out := invokeOutcome{stepID: stepID, primitive: step.Primitive}
	started := time.Now()

	fail := func(err error, conditionIDs ...string) invokeOutcome {
		out.err = err
		out.result = domain.StepResult{
			StepID:       stepID,
			Primitive:    step.Primitive,
			Status:       domain.StepFailed,
			Error:        err.Error(),
			ConditionIDs: conditionIDs,
			Duration:     time.Since(started),
		}
		return out
	}

	prim, err := r.exec.registry.Primitive(step.Primitive)
	if err != nil {
		return fail(err)
	}

	inputs, err := r.resolveInputs(step.Inputs, branch)
	if err != nil {
		return fail(fmt.Errorf("binding inputs for step %q: %w", stepID, err))
	}

	if err := r.budget.reserveTokens(prim.CostTokens); err != nil {
		return fail(err)
	}

	if err := prim.InputSchema.Validate(inputs); err != nil {
		return fail(&domain.SchemaViolationError{
			StepID: stepID, Primitive: prim.ID, Direction: "input", Err: err,
		})
	}

	preSnap := r.snapshotForStep(stepID, inputs, nil)
	if outcome, blocked := r.checkConditions(ctx, domain.PhasePrecondition, prim.Preconditions, preSnap, &out, started, stepID, prim.ID, inputs, nil); blocked {
		return outcome
	}

	inv := domain.Invocation{
		RunID:  r.state.RunID,
		StepID: stepID,
		Inputs: inputs,
	}
	if branch != nil && branch.hasItem {
		inv.Item = branch.item
		inv.Index = branch.index
	}

	output, err := prim.Body(ctx, inv)
	if err != nil {
		return fail(fmt.Errorf("step %q (%s): %w", stepID, prim.ID, err))
	}
	if output == nil {
		output = make(map[string]any)
	}

	if err := prim.OutputSchema.Validate(output); err != nil {
		return fail(&domain.SchemaViolationError{
			StepID: stepID, Primitive: prim.ID, Direction: "output", Err: err,
		})
	}

	postSnap := r.snapshotForStep(stepID, inputs, output)
	if outcome, blocked := r.checkConditions(ctx, domain.PhasePostcondition, prim.Postconditions, postSnap, &out, started, stepID, prim.ID, inputs, output); blocked {
		return outcome
	}
	if outcome, blocked := r.checkConditions(ctx, domain.PhaseInvariant, prim.Invariants, postSnap, &out, started, stepID, prim.ID, inputs, output); blocked {
		return outcome
	}

	out.output = output
	out.result = domain.StepResult{
		StepID:    stepID,
		Primitive: prim.ID,
		Status:    domain.StepSucceeded,
		Output:    output,
		Duration:  time.Since(started),
	}
	return out
}

// checkConditions runs one contract phase. Non-blocking failures are
// counted and reported through the contract-failure hook; a blocking
// failure produces the phase's typed error with a full diagnostic.
func (r *Run) checkConditions(ctx context.Context, phase domain.ContractPhase, conditions []domain.Condition, snap contract.Snapshot, out *invokeOutcome, started time.Time, stepID, primID string, inputs, output map[string]any) (invokeOutcome, bool) {
	if len(conditions) == 0 {
		return *out, false
	}

	results, failing, failure := r.exec.validator.CheckAll(ctx, conditions, snap)
	for i, res := range results {
		switch res.Status {
		case contract.StatusPassed, contract.StatusSkipped:
			out.checksPassed++
		default:
			out.checksFailed++
			r.emitContractFailure(ctx, stepID, conditions[i], phase, res)
		}
	}

	if failing == nil {
		return *out, false
	}

	err := &domain.ConditionFailureError{
		Phase:     phase,
		Condition: *failing,
		Diagnostic: &domain.Diagnostic{
			StepID:       stepID,
			ConditionIDs: []string{failing.ID},
			Reason:       failure.Reason,
			Inputs:       inputs,
			Outputs:      output,
		},
	}
	out.err = err
	out.result = domain.StepResult{
		StepID:       stepID,
		Primitive:    primID,
		Status:       domain.StepFailed,
		Error:        err.Error(),
		ConditionIDs: []string{failing.ID},
		Duration:     time.Since(started),
	}
	return *out, true
}

func (r *Run) emitContractFailure(ctx context.Context, stepID string, c domain.Condition, phase domain.ContractPhase, res contract.Result) {
	if r.exec.hooks.OnContractFailure == nil {
		return
	}
	r.exec.hooks.OnContractFailure(ctx, &domain.ContractEvent{
		RunID:       r.state.RunID,
		StepID:      stepID,
		ConditionID: c.ID,
		Phase:       phase,
		Severity:    c.Severity,
		Reason:      res.Reason,
	})
}

// snapshotForStep builds the condition-evaluation view for one step:
// the step's own values at the top level, the run inputs under "inputs",
// prior step outputs under "steps", plus the event log and recorded
// evidence kinds.
func (r *Run) snapshotForStep(stepID string, inputs, output map[string]any) contract.Snapshot {
	scope := make(map[string]any, len(inputs)+len(output)+2)
	for k, v := range inputs {
		scope[k] = v
	}
	for k, v := range output {
		scope[k] = v
	}
	scope["inputs"] = r.state.Inputs
	scope["steps"] = r.state.Outputs

	return contract.Snapshot{
		RunID:         r.state.RunID,
		StepID:        stepID,
		Scope:         scope,
		Events:        r.state.Events,
		EvidenceKinds: r.evidenceKinds(),
		Now:           time.Now().UTC(),
	}
}

// evidenceKinds derives the set of ledger entry kinds already recorded for
// this run from its episode.
func (r *Run) evidenceKinds() map[string]bool {
	kinds := make(map[string]bool)
	ep := r.exec.recorder.Get(r.state.RunID)
	if ep == nil {
		return kinds
	}
	kinds["episode.run_started"] = true
	if len(ep.Steps) > 0 {
		kinds["episode.step"] = true
	}
	if len(ep.Rollbacks) > 0 {
		kinds["episode.rollback"] = true
	}
	if ep.FlaggedForReview {
		kinds["episode.flagged_for_review"] = true
	}
	return kinds
}

// resolveInputs binds a step's declared inputs: literals pass through,
// "$"-prefixed strings resolve against the run. Nested maps and lists are
// resolved element-wise.
func (r *Run) resolveInputs(declared map[string]any, branch *branchContext) (map[string]any, error) {
	resolved := make(map[string]any, len(declared))
	for name, value := range declared {
		v, err := r.resolveValue(value, branch)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		resolved[name] = v
	}
	return resolved, nil
}

func (r *Run) resolveValue(value any, branch *branchContext) (any, error) {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			return r.resolveRef(v, branch)
		}
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			rv, err := r.resolveValue(elem, branch)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			rv, err := r.resolveValue(elem, branch)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return value, nil
	}
}

// resolveRef resolves one "$" reference:
//
//	$inputs.<path>   a run input
//	$steps.<id>.<path>  a prior step's output
//	$item, $item.<path>  the current map element
//	$index           the current map element's index
//	$decision, $decision.<path>  the injected resume decision
func (r *Run) resolveRef(ref string, branch *branchContext) (any, error) {
	path := strings.Split(strings.TrimPrefix(ref, "$"), ".")

	switch path[0] {
	case "inputs":
		return descend(r.state.Inputs, path[1:], ref)
	case "steps":
		return descend(r.state.Outputs, path[1:], ref)
	case "item":
		if branch == nil || !branch.hasItem {
			return nil, fmt.Errorf("reference %q outside a map operator", ref)
		}
		if len(path) == 1 {
			return branch.item, nil
		}
		m, ok := branch.item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reference %q: element is not an object", ref)
		}
		return descend(m, path[1:], ref)
	case "index":
		if branch == nil || !branch.hasItem {
			return nil, fmt.Errorf("reference %q outside a map operator", ref)
		}
		return branch.index, nil
	case "decision":
		return r.resolveDecision(path[1:], ref)
	default:
		return nil, fmt.Errorf("unknown reference root %q in %q", path[0], ref)
	}
}

// resolveDecision finds the most recent injected gate decision.
func (r *Run) resolveDecision(path []string, ref string) (any, error) {
	for i := len(r.comp.Operators) - 1; i >= 0; i-- {
		op := r.comp.Operators[i]
		if op.Kind != domain.OpGate {
			continue
		}
		gateOut, ok := r.state.Outputs[op.ID].(map[string]any)
		if !ok {
			continue
		}
		decision, ok := gateOut["decision"].(map[string]any)
		if !ok {
			continue
		}
		if len(path) == 0 {
			return decision, nil
		}
		return descend(decision, path, ref)
	}
	return nil, fmt.Errorf("reference %q: no decision recorded", ref)
}

func descend(root map[string]any, path []string, ref string) (any, error) {
	if len(path) == 0 {
		return root, nil
	}
	var current any = root
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reference %q: %q is not an object", ref, key)
		}
		current, ok = m[key]
		if !ok {
			return nil, fmt.Errorf("reference %q: %q not found", ref, key)
		}
	}
	return current, nil
}

// commit publishes a successful outcome into run state and the episode,
// under the run mutex.
func (r *Run) commit(ctx context.Context, out invokeOutcome) {
	r.stats.checksPassed += out.checksPassed
	r.stats.checksFailed += out.checksFailed

	r.exec.recorder.RecordStep(ctx, r.state.RunID, out.result)

	if out.err != nil {
		r.stats.stepsFailed++
		r.state.AppendEvent("step_failed", out.stepID, map[string]any{"error": out.err.Error()})
		return
	}

	r.stats.stepsOK++
	r.state.Outputs[out.stepID] = out.output
	r.state.MarkCompleted(out.stepID)
	r.state.AppendEvent("step_completed", out.stepID, nil)
}
