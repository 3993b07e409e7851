package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/lattice/internal/presentation/graph"
	"github.com/aretw0/lattice/pkg/domain"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		comp     domain.Composition
		overlay  *graph.Overlay
		contains []string
	}{
		{
			name: "Sequence Subgraph",
			comp: domain.Composition{
				ID: "seq",
				Operators: []domain.Operator{
					{ID: "main", Kind: domain.OpSequence, Sequence: &domain.SequenceOp{Steps: []domain.StepRef{
						{ID: "a", Primitive: "p1"},
						{ID: "b", Primitive: "p2"},
					}}},
				},
			},
			contains: []string{
				"subgraph main",
				"a --> b",
			},
		},
		{
			name: "Gate Diamond With Inputs",
			comp: domain.Composition{
				ID: "gated",
				Operators: []domain.Operator{
					{ID: "check", Kind: domain.OpGate, Gate: &domain.GateOp{
						Inputs:     []string{"analyze"},
						Conditions: []domain.Condition{{ID: "c1"}, {ID: "c2"}},
						OnFail:     domain.GateEscalate,
					}},
				},
			},
			contains: []string{
				"check{\"check <br/> 2 checks\"}",
				"analyze -.-> check",
				"on_fail: escalate_to_human",
			},
		},
		{
			name: "Iterate Round Trip",
			comp: domain.Composition{
				ID: "loop",
				Operators: []domain.Operator{
					{ID: "refine", Kind: domain.OpIterate, Iterate: &domain.IterateOp{
						Steps:         []domain.StepRef{{ID: "improve", Primitive: "p"}},
						MaxIterations: 5,
					}},
				},
			},
			contains: []string{
				"refine[[\"refine <br/> up to 5 rounds\"]]",
				"refine -->|next round| refine",
			},
		},
		{
			name: "Map And Filter Parallelograms",
			comp: domain.Composition{
				ID: "fan",
				Operators: []domain.Operator{
					{ID: "inspect", Kind: domain.OpMap, Map: &domain.MapOp{
						Step: domain.StepRef{ID: "one", Primitive: "lint"},
						Over: "$inputs.files",
					}},
					{ID: "keep", Kind: domain.OpFilter, Filter: &domain.FilterOp{
						Step: "inspect", Predicate: "non_empty",
					}},
				},
			},
			contains: []string{
				"inspect[/\"inspect <br/> lint over $inputs.files\"/]",
				"keep[/\"keep <br/> keep: non_empty\"/]",
				"inspect -.-> keep",
				"inspect --> keep",
			},
		},
		{
			name: "Operator Chaining",
			comp: domain.Composition{
				ID: "chain",
				Operators: []domain.Operator{
					{ID: "work", Kind: domain.OpSequence, Sequence: &domain.SequenceOp{Steps: []domain.StepRef{
						{ID: "a", Primitive: "p"},
					}}},
					{ID: "merge", Kind: domain.OpAggregate, Aggregate: &domain.AggregateOp{
						Steps: []string{"a"}, Strategy: "concat",
					}},
				},
			},
			contains: []string{
				"a --> merge",
				"a -.-> merge",
				"merge[[\"merge <br/> concat\"]]",
			},
		},
		{
			name: "Overlay Styles",
			comp: domain.Composition{
				ID: "styled",
				Operators: []domain.Operator{
					{ID: "main", Kind: domain.OpSequence, Sequence: &domain.SequenceOp{Steps: []domain.StepRef{
						{ID: "done-step", Primitive: "p"},
					}}},
				},
			},
			overlay: &graph.Overlay{
				CompletedSteps:  []string{"done-step", "done-step"},
				PendingOperator: "main",
			},
			contains: []string{
				"class done_step completed;",
				"class main pending;",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.comp, tt.overlay)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
		})
	}
}

func TestGenerateMermaid_DeduplicatesOverlay(t *testing.T) {
	comp := domain.Composition{
		ID: "dedup",
		Operators: []domain.Operator{
			{ID: "main", Kind: domain.OpSequence, Sequence: &domain.SequenceOp{Steps: []domain.StepRef{
				{ID: "s", Primitive: "p"},
			}}},
		},
	}
	got := graph.GenerateMermaid(comp, &graph.Overlay{CompletedSteps: []string{"s", "s", "s"}})
	if n := strings.Count(got, "class s completed;"); n != 1 {
		t.Errorf("expected one completed class line, got %d in:\n%s", n, got)
	}
}
