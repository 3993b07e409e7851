package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/lattice/internal/runtime"
	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/checkpoint"
	"github.com/aretw0/lattice/pkg/contract"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/episode"
	"github.com/aretw0/lattice/pkg/escalation"
	"github.com/aretw0/lattice/pkg/registry"
	"github.com/aretw0/lattice/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, reg *registry.Registry, opts ...runtime.ExecutorOption) *runtime.Executor {
	t.Helper()
	ledger := memory.NewLedger()
	return runtime.NewExecutor(
		reg,
		contract.New(contract.WithLedger(ledger)),
		episode.NewRecorder(ledger),
		checkpoint.NewManager(memory.NewStore()),
		opts...,
	)
}

func scorer(id string, score float64) domain.Primitive {
	return domain.Primitive{
		ID: id,
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			return map[string]any{"score": score}, nil
		},
	}
}

func sequenceOf(id string, steps ...domain.StepRef) domain.Operator {
	return domain.Operator{ID: id, Kind: domain.OpSequence, Sequence: &domain.SequenceOp{Steps: steps}}
}

func TestRun_SequenceCompletes(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("analyze", 0.9)))
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "report",
		Body: func(_ context.Context, inv domain.Invocation) (map[string]any, error) {
			return map[string]any{"summary": fmt.Sprintf("score was %v", inv.Inputs["score"])}, nil
		},
	}))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "pipeline",
		Operators: []domain.Operator{
			sequenceOf("main",
				domain.StepRef{ID: "a", Primitive: "analyze"},
				domain.StepRef{ID: "b", Primitive: "report", Inputs: map[string]any{"score": "$steps.a.score"}},
			),
		},
	}

	run, err := exec.NewRun(comp, map[string]any{"target": "repo"})
	require.NoError(t, err)

	ep, err := run.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status())
	require.NotNil(t, ep)
	assert.Equal(t, domain.RunCompleted, ep.Status)
	require.Len(t, ep.Steps, 2)
	assert.Equal(t, "score was 0.9", ep.Steps[1].Output["summary"])

	state := run.State()
	assert.Equal(t, []string{"a", "b"}, state.Completed)
}

func TestRun_SequenceStopsAtBlockingFailure(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("ok", 1)))
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "boom",
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			return nil, errors.New("kaput")
		},
	}))
	require.NoError(t, reg.Register(scorer("never", 1)))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "failing",
		Operators: []domain.Operator{
			sequenceOf("main",
				domain.StepRef{ID: "s1", Primitive: "ok"},
				domain.StepRef{ID: "s2", Primitive: "boom"},
				domain.StepRef{ID: "s3", Primitive: "never"},
			),
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)

	ep, err := run.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.RunFailed, run.Status())

	// The first step's output stays committed; the third never ran.
	state := run.State()
	assert.Contains(t, state.Outputs, "s1")
	assert.NotContains(t, state.Outputs, "s3")
	require.Len(t, ep.Steps, 2)
	assert.Equal(t, domain.StepFailed, ep.Steps[1].Status)
}

func TestRun_GateAbortWithDiagnostic(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("analyze", 0.3)))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "gated",
		Operators: []domain.Operator{
			sequenceOf("work", domain.StepRef{ID: "analyze", Primitive: "analyze"}),
			{ID: "quality", Kind: domain.OpGate, Gate: &domain.GateOp{
				Inputs: []string{"analyze"},
				Conditions: []domain.Condition{{
					ID: "min-score", Kind: domain.CheckValue,
					Severity: domain.SeverityError, Expression: "analyze.score > 0.5",
				}},
				OnFail: domain.GateAbort,
			}},
			sequenceOf("after", domain.StepRef{ID: "late", Primitive: "analyze"}),
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)

	_, err = run.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGateAbort))
	assert.Equal(t, domain.RunAborted, run.Status())

	var gateErr *domain.GateAbortError
	require.True(t, errors.As(err, &gateErr))
	assert.Contains(t, gateErr.Diagnostic.ConditionIDs, "min-score")

	// Nothing past the gate executed.
	assert.NotContains(t, run.State().Outputs, "late")
}

func TestRun_GateEscalateAndResume(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("analyze", 0.3)))
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "finish",
		Body: func(_ context.Context, inv domain.Invocation) (map[string]any, error) {
			return map[string]any{"approved_by": inv.Inputs["who"]}, nil
		},
	}))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "review-flow",
		Operators: []domain.Operator{
			sequenceOf("work", domain.StepRef{ID: "analyze", Primitive: "analyze"}),
			{ID: "review", Kind: domain.OpGate, Gate: &domain.GateOp{
				Inputs: []string{"analyze"},
				Conditions: []domain.Condition{{
					ID: "min-score", Kind: domain.CheckValue,
					Severity: domain.SeverityError, Expression: "analyze.score > 0.5",
				}},
				OnFail: domain.GateEscalate,
			}},
			sequenceOf("after", domain.StepRef{
				ID: "finish", Primitive: "finish",
				Inputs: map[string]any{"who": "$decision.reviewer"},
			}),
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)

	_, err = run.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunEscalated, run.Status())
	require.NotNil(t, run.State().PendingGate)
	assert.Equal(t, "review", run.State().PendingGate.OperatorID)

	// Stepping a suspended run makes no progress.
	report, err := run.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Suspended)

	require.NoError(t, run.Resume(context.Background(), map[string]any{
		"approved": true, "reviewer": "sam",
	}))

	_, err = run.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status())

	out := run.State().Outputs["finish"].(map[string]any)
	assert.Equal(t, "sam", out["approved_by"])
}

func TestRun_ResumeRejectionAborts(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("analyze", 0.1)))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "review-flow",
		Operators: []domain.Operator{
			sequenceOf("work", domain.StepRef{ID: "analyze", Primitive: "analyze"}),
			{ID: "review", Kind: domain.OpGate, Gate: &domain.GateOp{
				Inputs: []string{"analyze"},
				Conditions: []domain.Condition{{
					ID: "c", Kind: domain.CheckValue,
					Severity: domain.SeverityError, Expression: "analyze.score > 0.5",
				}},
				OnFail: domain.GateEscalate,
			}},
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.RunEscalated, run.Status())

	require.NoError(t, run.Resume(context.Background(), map[string]any{"approved": false}))
	assert.Equal(t, domain.RunAborted, run.Status())

	// A terminal run cannot be resumed again.
	err = run.Resume(context.Background(), map[string]any{"approved": true})
	assert.True(t, errors.Is(err, domain.ErrRunNotSuspended))
}

func TestRun_GateContinueAndFlag(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("analyze", 0.3)))

	for _, tc := range []struct {
		onFail  domain.GateOnFail
		flagged bool
	}{
		{domain.GateContinue, false},
		{domain.GateFlag, true},
	} {
		t.Run(string(tc.onFail), func(t *testing.T) {
			exec := newTestExecutor(t, reg)
			comp := domain.Composition{
				ID: "soft-gate",
				Operators: []domain.Operator{
					sequenceOf("work", domain.StepRef{ID: "analyze", Primitive: "analyze"}),
					{ID: "g", Kind: domain.OpGate, Gate: &domain.GateOp{
						Inputs: []string{"analyze"},
						Conditions: []domain.Condition{{
							ID: "c", Kind: domain.CheckValue,
							Severity: domain.SeverityError, Expression: "analyze.score > 0.5",
						}},
						OnFail: tc.onFail,
					}},
				},
			}

			run, err := exec.NewRun(comp, nil)
			require.NoError(t, err)
			ep, err := run.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, domain.RunCompleted, run.Status())
			assert.Equal(t, tc.flagged, ep.FlaggedForReview)

			gate := run.State().Outputs["g"].(map[string]any)
			assert.Equal(t, false, gate["passed"])
		})
	}
}

func TestRun_MapPartialFailure(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "inspect",
		Body: func(_ context.Context, inv domain.Invocation) (map[string]any, error) {
			name, _ := inv.Item.(string)
			if name == "bad" {
				return nil, errors.New("unreadable")
			}
			return map[string]any{"file": name, "clean": true}, nil
		},
	}))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "fanout",
		Operators: []domain.Operator{
			{ID: "scan", Kind: domain.OpMap, Map: &domain.MapOp{
				Step: domain.StepRef{ID: "inspect", Primitive: "inspect"},
				Over: "$inputs.files",
			}},
		},
	}

	run, err := exec.NewRun(comp, map[string]any{
		"files": []any{"a.go", "b.go", "bad", "c.go", "d.go"},
	})
	require.NoError(t, err)

	ep, err := run.Run(context.Background())
	require.NoError(t, err, "per-element failures never fail the operator")
	assert.Equal(t, domain.RunCompleted, run.Status())

	merged := run.State().Outputs["inspect"].(map[string]any)
	assert.Equal(t, float64(4), merged["succeeded"])
	assert.Equal(t, float64(1), merged["failed"])
	assert.Len(t, merged["results"], 4)
	assert.Len(t, merged["failures"], 1)

	// Every branch, failed ones included, is in the episode.
	require.Len(t, ep.Steps, 5)
	failed := 0
	for _, s := range ep.Steps {
		if s.Status == domain.StepFailed {
			failed++
			assert.Equal(t, "inspect[2]", s.StepID)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRun_IterateExitsByCondition(t *testing.T) {
	reg := registry.New()
	count := 0.0
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "refine",
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			count++
			return map[string]any{"quality": count / 10}, nil
		},
	}))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "refinement",
		Operators: []domain.Operator{
			{ID: "loop", Kind: domain.OpIterate, Iterate: &domain.IterateOp{
				Steps:         []domain.StepRef{{ID: "refine", Primitive: "refine"}},
				MaxIterations: 10,
				ExitCondition: "refine.quality >= 0.3",
			}},
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.NoError(t, err)

	loop := run.State().Outputs["loop"].(map[string]any)
	assert.Equal(t, float64(3), loop["rounds"])
	assert.Equal(t, "condition", loop["exited_by"])
}

func TestRun_IterateNeverExceedsCap(t *testing.T) {
	reg := registry.New()
	rounds := 0
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "spin",
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			rounds++
			return map[string]any{"done": false}, nil
		},
	}))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "bounded",
		Operators: []domain.Operator{
			{ID: "loop", Kind: domain.OpIterate, Iterate: &domain.IterateOp{
				Steps:         []domain.StepRef{{ID: "spin", Primitive: "spin"}},
				MaxIterations: 4,
				ExitCondition: "spin.done == true",
			}},
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, rounds, "the cap bounds the loop when the condition never holds")
	loop := run.State().Outputs["loop"].(map[string]any)
	assert.Equal(t, "max_iterations", loop["exited_by"])
}

func TestRun_ParallelIsolationAndCollection(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("fast", 0.8)))
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "flaky",
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			return nil, errors.New("branch failed")
		},
	}))
	require.NoError(t, reg.Register(scorer("slow", 0.6)))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "fan",
		Operators: []domain.Operator{
			{ID: "par", Kind: domain.OpParallel, Parallel: &domain.ParallelOp{
				Steps: []domain.StepRef{
					{ID: "p1", Primitive: "fast"},
					{ID: "p2", Primitive: "flaky"},
					{ID: "p3", Primitive: "slow"},
				},
			}},
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	ep, err := run.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.RunFailed, run.Status())

	// Siblings of the failed branch still ran and committed.
	state := run.State()
	assert.Contains(t, state.Outputs, "p1")
	assert.Contains(t, state.Outputs, "p3")
	require.Len(t, ep.Steps, 3)
}

func TestRun_AggregateThenFilter(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "findings-a",
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			return map[string]any{"findings": []any{
				map[string]any{"id": "f1", "items": []any{1}},
				map[string]any{"id": "f2"},
			}}, nil
		},
	}))
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "findings-b",
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			return map[string]any{"findings": []any{
				map[string]any{"id": "f3", "severity": "high"},
			}}, nil
		},
	}))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "merge",
		Operators: []domain.Operator{
			{ID: "par", Kind: domain.OpParallel, Parallel: &domain.ParallelOp{
				Steps: []domain.StepRef{
					{ID: "a", Primitive: "findings-a"},
					{ID: "b", Primitive: "findings-b"},
				},
			}},
			{ID: "agg", Kind: domain.OpAggregate, Aggregate: &domain.AggregateOp{
				Steps: []string{"a", "b"}, Strategy: "merge_findings",
			}},
			{ID: "high", Kind: domain.OpFilter, Filter: &domain.FilterOp{
				Step: "agg", Field: "findings", Predicate: "severity == 'high'",
			}},
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.NoError(t, err)

	agg := run.State().Outputs["agg"].(map[string]any)
	assert.Equal(t, 3, agg["count"])

	high := run.State().Outputs["high"].(map[string]any)
	assert.Equal(t, float64(1), high["kept"])
	assert.Equal(t, float64(2), high["dropped"])

	// The source list was not mutated by the filter.
	assert.Len(t, agg["findings"], 3)
}

func TestRun_TokenBudgetStopsOverspend(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Primitive{
		ID:         "expensive",
		CostTokens: 100,
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	}))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "spender",
		Operators: []domain.Operator{
			sequenceOf("s1", domain.StepRef{ID: "c1", Primitive: "expensive"}),
			sequenceOf("s2", domain.StepRef{ID: "c2", Primitive: "expensive"}),
		},
	}

	run, err := exec.NewRun(comp, nil, runtime.WithBudget(domain.Budget{MaxTokens: 150}))
	require.NoError(t, err)

	ep, err := run.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBudgetExhausted))
	assert.Equal(t, domain.RunFailed, run.Status())

	var budgetErr *domain.BudgetExhaustedError
	require.True(t, errors.As(err, &budgetErr))
	assert.Equal(t, "tokens", budgetErr.Resource)

	// Heavy spend with healthy execution is not degradation: the cap hits
	// as a budget failure, never preempted by an escalation stop.
	assert.Empty(t, ep.Rollbacks)
	for _, ev := range run.State().Events {
		assert.NotEqual(t, "escalation", ev.Kind)
	}
}

func TestRun_StepBudget(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("cheap", 1)))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "stepper",
		Operators: []domain.Operator{
			sequenceOf("s1", domain.StepRef{ID: "c1", Primitive: "cheap"}),
			sequenceOf("s2", domain.StepRef{ID: "c2", Primitive: "cheap"}),
		},
	}

	run, err := exec.NewRun(comp, nil, runtime.WithBudget(domain.Budget{MaxSteps: 1}))
	require.NoError(t, err)

	_, err = run.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBudgetExhausted))
	assert.Equal(t, domain.RunFailed, run.Status())
}

func TestRun_ApprovalTimeoutAbortsSuspendedRun(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("analyze", 0.1)))

	cfg := escalation.DefaultConfig()
	cfg.ApprovalTimeout = 25 * time.Millisecond

	exec := newTestExecutor(t, reg, runtime.WithEscalationConfig(cfg))
	comp := domain.Composition{
		ID: "review-flow",
		Operators: []domain.Operator{
			sequenceOf("work", domain.StepRef{ID: "analyze", Primitive: "analyze"}),
			{ID: "review", Kind: domain.OpGate, Gate: &domain.GateOp{
				Inputs: []string{"analyze"},
				Conditions: []domain.Condition{{
					ID: "c", Kind: domain.CheckValue,
					Severity: domain.SeverityError, Expression: "analyze.score > 0.5",
				}},
				OnFail: domain.GateEscalate,
			}},
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.RunEscalated, run.Status())

	require.Eventually(t, func() bool {
		return run.Status() == domain.RunAborted
	}, time.Second, 5*time.Millisecond, "an undecided approval expires")

	_, err = run.Next(context.Background())
	assert.True(t, errors.Is(err, domain.ErrApprovalTimeout))

	// The expired run is terminal; a late decision is rejected.
	err = run.Resume(context.Background(), map[string]any{"approved": true})
	assert.True(t, errors.Is(err, domain.ErrRunNotSuspended))
}

func TestRun_PreconditionBlocksBody(t *testing.T) {
	reg := registry.New()
	ran := false
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "guarded",
		Preconditions: []domain.Condition{{
			ID: "needs-target", Kind: domain.CheckValue,
			Severity: domain.SeverityError, Expression: "exists(target)",
		}},
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			ran = true
			return map[string]any{}, nil
		},
	}))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID:        "guarded-flow",
		Operators: []domain.Operator{sequenceOf("s", domain.StepRef{ID: "g", Primitive: "guarded"})},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPreconditionFailure))
	assert.False(t, ran, "the body never runs when a precondition blocks")

	var condErr *domain.ConditionFailureError
	require.True(t, errors.As(err, &condErr))
	assert.Equal(t, "needs-target", condErr.Condition.ID)
}

func TestRun_UnknownOperatorRollsBackAndFails(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("ok", 1)))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID: "corrupt",
		Operators: []domain.Operator{
			sequenceOf("s1", domain.StepRef{ID: "c1", Primitive: "ok"}),
			{ID: "mystery", Kind: domain.OperatorKind("teleport")},
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	ep, err := run.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownOperator))
	assert.Equal(t, domain.RunFailed, run.Status())

	// A fatal failure restores the latest verified checkpoint first.
	require.Len(t, ep.Rollbacks, 1)
}

func TestRun_RecursionDepthLimit(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(scorer("ok", 1)))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID:        "deep",
		Operators: []domain.Operator{sequenceOf("s", domain.StepRef{ID: "c", Primitive: "ok"})},
	}

	_, err := exec.NewRun(comp, nil, runtime.WithDepth(runtime.DefaultRecursionLimit))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRecursionLimit))
}

func TestRun_CustomStrategyAndPredicate(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Primitive{
		ID: "emit",
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			return map[string]any{"values": []any{1.0, -2.0, 3.0}}, nil
		},
	}))

	exec := newTestExecutor(t, reg,
		runtime.WithStrategy("sum", func(inputs []map[string]any) (map[string]any, error) {
			total := 0.0
			for _, in := range inputs {
				if vs, ok := in["values"].([]any); ok {
					for _, v := range vs {
						total += v.(float64)
					}
				}
			}
			return map[string]any{"total": total}, nil
		}),
		runtime.WithPredicate("positive", func(item any, _ int) (bool, error) {
			f, ok := item.(float64)
			return ok && f > 0, nil
		}),
	)

	comp := domain.Composition{
		ID: "custom",
		Operators: []domain.Operator{
			sequenceOf("s", domain.StepRef{ID: "emit", Primitive: "emit"}),
			{ID: "sum", Kind: domain.OpAggregate, Aggregate: &domain.AggregateOp{
				Steps: []string{"emit"}, Strategy: "sum",
			}},
			{ID: "pos", Kind: domain.OpFilter, Filter: &domain.FilterOp{
				Step: "emit", Field: "values", Predicate: "positive",
			}},
		},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.0, run.State().Outputs["sum"].(map[string]any)["total"])
	assert.Equal(t, float64(2), run.State().Outputs["pos"].(map[string]any)["kept"])
}

func TestRun_OutputSchemaViolation(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Primitive{
		ID:           "typed",
		OutputSchema: schema.Object(map[string]any{"score": map[string]any{"type": "number"}}),
		Body: func(_ context.Context, _ domain.Invocation) (map[string]any, error) {
			return map[string]any{"score": "not a number"}, nil
		},
	}))

	exec := newTestExecutor(t, reg)
	comp := domain.Composition{
		ID:        "typed-flow",
		Operators: []domain.Operator{sequenceOf("s", domain.StepRef{ID: "t", Primitive: "typed"})},
	}

	run, err := exec.NewRun(comp, nil)
	require.NoError(t, err)
	_, err = run.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSchemaViolation))

	// A schema-violating output is never published.
	assert.NotContains(t, run.State().Outputs, "t")
}
