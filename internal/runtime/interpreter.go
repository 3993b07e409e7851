package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/lattice/pkg/contract"
	"github.com/aretw0/lattice/pkg/domain"
)

// evalOperator dispatches one operator. The switch is exhaustive over the
// closed kind set; the compiler rejects anything else before a run starts,
// so an unknown kind here is a programming error surfaced as
// ErrUnknownOperator rather than a silent skip.
func (r *Run) evalOperator(ctx context.Context, op domain.Operator) (*StepReport, error) {
	report := &StepReport{OperatorID: op.ID, Kind: op.Kind}

	switch op.Kind {
	case domain.OpSequence:
		return report, r.evalSequence(ctx, op, report)
	case domain.OpParallel:
		return report, r.evalParallel(ctx, op, report)
	case domain.OpGate:
		return report, r.evalGate(ctx, op, report)
	case domain.OpIterate:
		return report, r.evalIterate(ctx, op, report)
	case domain.OpMap:
		return report, r.evalMap(ctx, op, report)
	case domain.OpAggregate:
		return report, r.evalAggregate(ctx, op, report)
	case domain.OpFilter:
		return report, r.evalFilter(ctx, op, report)
	}
	return report, fmt.Errorf("%w: %q (operator %s)", domain.ErrUnknownOperator, op.Kind, op.ID)
}

// evalSequence runs steps in listed order, stopping at the first blocking
// failure. Earlier steps' outputs stay committed.
func (r *Run) evalSequence(ctx context.Context, op domain.Operator, report *StepReport) error {
	if op.Sequence == nil {
		return fmt.Errorf("operator %s: empty sequence body", op.ID)
	}
	for _, step := range op.Sequence.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := r.invoke(ctx, step, nil)
		r.commit(ctx, out)
		report.Results = append(report.Results, out.result)
		if out.err != nil {
			return out.err
		}
	}
	return nil
}

// evalParallel fans steps out concurrently. Each branch gets an isolated
// invocation; a failing branch never cancels its siblings. All outcomes
// are committed after every branch reports, in declaration order, so the
// run state and episode stay deterministic. A blocking branch failure
// fails the operator only once all branches have finished.
func (r *Run) evalParallel(ctx context.Context, op domain.Operator, report *StepReport) error {
	if op.Parallel == nil {
		return fmt.Errorf("operator %s: empty parallel body", op.ID)
	}

	outcomes := make([]invokeOutcome, len(op.Parallel.Steps))
	var wg sync.WaitGroup
	for i, step := range op.Parallel.Steps {
		wg.Add(1)
		go func(i int, step domain.StepRef) {
			defer wg.Done()
			outcomes[i] = r.invoke(ctx, step, nil)
		}(i, step)
	}
	wg.Wait()

	var firstErr error
	for _, out := range outcomes {
		r.commit(ctx, out)
		report.Results = append(report.Results, out.result)
		if out.err != nil && firstErr == nil {
			firstErr = out.err
		}
	}
	return firstErr
}

// evalGate checks conditions over the accumulated outputs of its input
// steps and resolves the on_fail policy. The diagnostic always names the
// failing conditions and the values they saw.
func (r *Run) evalGate(ctx context.Context, op domain.Operator, report *StepReport) error {
	if op.Gate == nil {
		return fmt.Errorf("operator %s: empty gate body", op.ID)
	}

	scope := r.gateScope(op.Gate.Inputs)
	snap := contract.Snapshot{
		RunID:         r.state.RunID,
		StepID:        op.ID,
		Scope:         scope,
		Events:        r.state.Events,
		EvidenceKinds: r.evidenceKinds(),
	}

	results, failing, failure := r.exec.validator.CheckAll(ctx, op.Gate.Conditions, snap)
	blocking := op.Gate.OnFail == domain.GateAbort || op.Gate.OnFail == domain.GateEscalate || op.Gate.OnFail == ""
	for i, res := range results {
		switch res.Status {
		case contract.StatusPassed, contract.StatusSkipped:
			r.stats.checksPassed++
		default:
			// Failures tolerated by the on_fail policy are recorded but do
			// not count against contract health.
			if blocking {
				r.stats.checksFailed++
			}
			r.emitContractFailure(ctx, op.ID, op.Gate.Conditions[i], domain.PhasePrecondition, res)
		}
	}

	passed := failing == nil
	r.state.Outputs[op.ID] = map[string]any{"passed": passed}
	r.state.AppendEvent("gate_evaluated", op.ID, map[string]any{"passed": passed})

	if passed {
		return nil
	}

	diag := &domain.Diagnostic{
		OperatorID:   op.ID,
		ConditionIDs: []string{failing.ID},
		Reason:       failure.Reason,
		Inputs:       scope,
	}
	report.Diagnostic = diag

	switch op.Gate.OnFail {
	case domain.GateAbort, "":
		return &domain.GateAbortError{Diagnostic: diag}
	case domain.GateEscalate:
		report.Suspended = true
		return nil
	case domain.GateContinue:
		r.exec.logger.Warn("gate failed, continuing",
			"run_id", r.state.RunID, "operator_id", op.ID, "reason", failure.Reason)
		return nil
	case domain.GateFlag:
		r.exec.recorder.FlagForReview(ctx, r.state.RunID, diag.String())
		return nil
	default:
		return fmt.Errorf("operator %s: unknown on_fail policy %q", op.ID, op.Gate.OnFail)
	}
}

// gateScope exposes each input step's output under its id; with a single
// input step its fields are additionally lifted to the top level.
func (r *Run) gateScope(inputSteps []string) map[string]any {
	scope := map[string]any{
		"inputs": r.state.Inputs,
		"steps":  r.state.Outputs,
	}
	for _, id := range inputSteps {
		if out, ok := r.state.Outputs[id]; ok {
			scope[id] = out
		}
	}
	if len(inputSteps) == 1 {
		if out, ok := r.state.Outputs[inputSteps[0]].(map[string]any); ok {
			for k, v := range out {
				if _, taken := scope[k]; !taken {
					scope[k] = v
				}
			}
		}
	}
	return scope
}

// evalIterate repeats its steps up to the round cap, re-checking the exit
// condition after each round. Termination is structural: the loop can
// never run past MaxIterations regardless of the condition.
func (r *Run) evalIterate(ctx context.Context, op domain.Operator, report *StepReport) error {
	body := op.Iterate
	if body == nil {
		return fmt.Errorf("operator %s: empty iterate body", op.ID)
	}
	if body.MaxIterations <= 0 {
		return fmt.Errorf("operator %s: max_iterations must be positive", op.ID)
	}

	rounds := 0
	exitedBy := "max_iterations"

	for rounds < body.MaxIterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		rounds++

		for _, step := range body.Steps {
			out := r.invoke(ctx, step, nil)
			r.commit(ctx, out)
			report.Results = append(report.Results, out.result)
			if out.err != nil {
				return out.err
			}
		}

		if body.ExitCondition == "" {
			continue
		}
		done, err := contract.Eval(body.ExitCondition, r.iterateScope(rounds))
		if err != nil {
			return fmt.Errorf("operator %s: exit condition: %w", op.ID, err)
		}
		if done {
			exitedBy = "condition"
			break
		}
	}

	r.state.Outputs[op.ID] = map[string]any{
		"rounds":    float64(rounds),
		"exited_by": exitedBy,
	}
	r.state.AppendEvent("iterate_finished", op.ID, map[string]any{
		"rounds": rounds, "exited_by": exitedBy,
	})
	return nil
}

func (r *Run) iterateScope(round int) map[string]any {
	scope := map[string]any{
		"inputs": r.state.Inputs,
		"steps":  r.state.Outputs,
		"round":  float64(round),
	}
	for id, out := range r.state.Outputs {
		if _, taken := scope[id]; !taken {
			scope[id] = out
		}
	}
	return scope
}

// evalMap fans one primitive out over a collection, one isolated branch
// per element, concurrently. Per-element failures are collected, never
// propagated: the merged output reports successes and failures side by
// side, and the operator itself fails only if the collection reference
// cannot be resolved.
func (r *Run) evalMap(ctx context.Context, op domain.Operator, report *StepReport) error {
	body := op.Map
	if body == nil {
		return fmt.Errorf("operator %s: empty map body", op.ID)
	}

	source, err := r.resolveValue(body.Over, nil)
	if err != nil {
		return fmt.Errorf("operator %s: resolving %q: %w", op.ID, body.Over, err)
	}
	items, ok := source.([]any)
	if !ok {
		return fmt.Errorf("operator %s: %q is not a collection (got %T)", op.ID, body.Over, source)
	}

	outcomes := make([]invokeOutcome, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			outcomes[i] = r.invoke(ctx, body.Step, &branchContext{
				item:    item,
				index:   i,
				hasItem: true,
				stepID:  fmt.Sprintf("%s[%d]", body.Step.ID, i),
			})
		}(i, item)
	}
	wg.Wait()

	results := make([]any, 0, len(items))
	failures := make([]any, 0)
	succeeded := 0
	for _, out := range outcomes {
		// Branch results feed the merged output, not the shared step table.
		r.stats.checksPassed += out.checksPassed
		r.stats.checksFailed += out.checksFailed
		r.exec.recorder.RecordStep(ctx, r.state.RunID, out.result)
		report.Results = append(report.Results, out.result)

		if out.err != nil {
			r.stats.stepsFailed++
			failures = append(failures, map[string]any{
				"step_id": out.stepID,
				"error":   out.err.Error(),
			})
			continue
		}
		r.stats.stepsOK++
		succeeded++
		results = append(results, out.output)
	}

	merged := map[string]any{
		"results":   results,
		"failures":  failures,
		"succeeded": float64(succeeded),
		"failed":    float64(len(failures)),
	}
	r.state.Outputs[body.Step.ID] = merged
	r.state.Outputs[op.ID] = merged
	r.state.MarkCompleted(body.Step.ID)
	r.state.AppendEvent("map_finished", op.ID, map[string]any{
		"total": len(items), "succeeded": succeeded, "failed": len(failures),
	})
	return nil
}

// evalAggregate merges named prior outputs with a pure reducer. Source
// outputs are left untouched.
func (r *Run) evalAggregate(ctx context.Context, op domain.Operator, report *StepReport) error {
	body := op.Aggregate
	if body == nil {
		return fmt.Errorf("operator %s: empty aggregate body", op.ID)
	}

	reduce, err := r.exec.strategy(body.Strategy)
	if err != nil {
		return fmt.Errorf("operator %s: %w", op.ID, err)
	}

	inputs := make([]map[string]any, 0, len(body.Steps))
	for _, id := range body.Steps {
		out, ok := r.state.Outputs[id].(map[string]any)
		if !ok {
			return fmt.Errorf("operator %s: no output recorded for step %q", op.ID, id)
		}
		inputs = append(inputs, out)
	}

	merged, err := reduce(inputs)
	if err != nil {
		return fmt.Errorf("operator %s: strategy %q: %w", op.ID, body.Strategy, err)
	}

	r.state.Outputs[op.ID] = merged
	r.state.AppendEvent("aggregate_finished", op.ID, map[string]any{"strategy": body.Strategy})
	return nil
}

// evalFilter selects the elements of a prior collection that satisfy the
// predicate. The source collection is never mutated; the kept elements go
// into a fresh slice under the operator's id.
func (r *Run) evalFilter(ctx context.Context, op domain.Operator, report *StepReport) error {
	body := op.Filter
	if body == nil {
		return fmt.Errorf("operator %s: empty filter body", op.ID)
	}

	source, ok := r.state.Outputs[body.Step]
	if !ok {
		return fmt.Errorf("operator %s: no output recorded for step %q", op.ID, body.Step)
	}
	if body.Field != "" {
		m, isMap := source.(map[string]any)
		if !isMap {
			return fmt.Errorf("operator %s: output of %q is not an object", op.ID, body.Step)
		}
		source, ok = m[body.Field]
		if !ok {
			return fmt.Errorf("operator %s: field %q absent from output of %q", op.ID, body.Field, body.Step)
		}
	}
	items, ok := source.([]any)
	if !ok {
		return fmt.Errorf("operator %s: value to filter is not a collection (got %T)", op.ID, source)
	}

	keep := r.exec.predicate(body.Predicate)
	kept := make([]any, 0, len(items))
	for i, item := range items {
		selected, err := keep(item, i)
		if err != nil {
			return fmt.Errorf("operator %s: predicate %q on element %d: %w", op.ID, body.Predicate, i, err)
		}
		if selected {
			kept = append(kept, item)
		}
	}

	r.state.Outputs[op.ID] = map[string]any{
		"items":   kept,
		"kept":    float64(len(kept)),
		"dropped": float64(len(items) - len(kept)),
	}
	r.state.AppendEvent("filter_finished", op.ID, map[string]any{
		"kept": len(kept), "dropped": len(items) - len(kept),
	})
	return nil
}
