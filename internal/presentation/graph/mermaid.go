// Package graph renders compositions as Mermaid flowcharts for the CLI and
// documentation tooling.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/lattice/pkg/domain"
)

// Overlay contains dynamic run state to visualize on the graph.
type Overlay struct {
	CompletedSteps  []string
	PendingOperator string
}

// GenerateMermaid produces Mermaid flowchart syntax for a composition.
// Operator shapes follow their kind:
// - gate: {Diamond}
// - iterate: [[Subroutine]] with a round-trip edge
// - map/filter: [/Parallelogram/]
// - sequence/parallel: subgraph of step nodes
// Overlay styles (completed/pending) are applied if provided.
func GenerateMermaid(comp domain.Composition, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	var prevExit string
	for _, op := range comp.Operators {
		opID := sanitizeMermaidID(op.ID)
		entry, exit := opID, opID

		switch op.Kind {
		case domain.OpSequence:
			entry, exit = writeStepGroup(&sb, op.ID, op.Sequence.Steps, true)
		case domain.OpParallel:
			entry, exit = writeStepGroup(&sb, op.ID, op.Parallel.Steps, false)
		case domain.OpGate:
			label := fmt.Sprintf("%s <br/> %d checks", op.ID, len(op.Gate.Conditions))
			sb.WriteString(fmt.Sprintf("    %s{\"%s\"}\n", opID, label))
			for _, input := range op.Gate.Inputs {
				sb.WriteString(fmt.Sprintf("    %s -.-> %s\n", sanitizeMermaidID(input), opID))
			}
			if op.Gate.OnFail != "" && op.Gate.OnFail != domain.GateAbort {
				sb.WriteString(fmt.Sprintf("    %s -. \"on_fail: %s\" .-> %s_onfail[\"%s\"]\n",
					opID, op.Gate.OnFail, opID, op.Gate.OnFail))
			}
		case domain.OpIterate:
			label := fmt.Sprintf("%s <br/> up to %d rounds", op.ID, op.Iterate.MaxIterations)
			sb.WriteString(fmt.Sprintf("    %s[[\"%s\"]]\n", opID, label))
			sb.WriteString(fmt.Sprintf("    %s -->|next round| %s\n", opID, opID))
			for _, step := range op.Iterate.Steps {
				stepID := sanitizeMermaidID(step.ID)
				sb.WriteString(fmt.Sprintf("    %s --- %s[\"%s\"]\n", opID, stepID, step.ID))
			}
		case domain.OpMap:
			label := fmt.Sprintf("%s <br/> %s over %s", op.ID, op.Map.Step.Primitive, escapeMermaidLabel(op.Map.Over))
			sb.WriteString(fmt.Sprintf("    %s[/\"%s\"/]\n", opID, label))
		case domain.OpAggregate:
			label := fmt.Sprintf("%s <br/> %s", op.ID, op.Aggregate.Strategy)
			sb.WriteString(fmt.Sprintf("    %s[[\"%s\"]]\n", opID, label))
			for _, src := range op.Aggregate.Steps {
				sb.WriteString(fmt.Sprintf("    %s -.-> %s\n", sanitizeMermaidID(src), opID))
			}
		case domain.OpFilter:
			label := fmt.Sprintf("%s <br/> keep: %s", op.ID, escapeMermaidLabel(op.Filter.Predicate))
			sb.WriteString(fmt.Sprintf("    %s[/\"%s\"/]\n", opID, label))
			sb.WriteString(fmt.Sprintf("    %s -.-> %s\n", sanitizeMermaidID(op.Filter.Step), opID))
		default:
			sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", opID, op.ID))
		}

		if prevExit != "" {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", prevExit, entry))
		}
		prevExit = exit
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef completed fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef pending fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.CompletedSteps {
			safeID := sanitizeMermaidID(id)
			if safeID != "" && !seen[safeID] {
				seen[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s completed;\n", safeID))
			}
		}
		if overlay.PendingOperator != "" {
			sb.WriteString(fmt.Sprintf("    class %s pending;\n", sanitizeMermaidID(overlay.PendingOperator)))
		}
	}

	return sb.String()
}

// writeStepGroup renders a sequence or parallel operator as a subgraph.
// Sequence steps are chained; parallel steps stand side by side. Returns the
// entry and exit node ids for chaining with neighboring operators.
func writeStepGroup(sb *strings.Builder, opID string, steps []domain.StepRef, chained bool) (string, string) {
	safeOp := sanitizeMermaidID(opID)
	sb.WriteString(fmt.Sprintf("    subgraph %s\n", safeOp))
	for i, step := range steps {
		stepID := sanitizeMermaidID(step.ID)
		sb.WriteString(fmt.Sprintf("        %s[\"%s\"]\n", stepID, step.ID))
		if chained && i > 0 {
			prev := sanitizeMermaidID(steps[i-1].ID)
			sb.WriteString(fmt.Sprintf("        %s --> %s\n", prev, stepID))
		}
	}
	sb.WriteString("    end\n")

	// Parallel groups link via the subgraph itself so every branch hangs off
	// the same junction; sequences link through their first and last steps.
	if !chained || len(steps) == 0 {
		return safeOp, safeOp
	}
	return sanitizeMermaidID(steps[0].ID), sanitizeMermaidID(steps[len(steps)-1].ID)
}

func escapeMermaidLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", "[", "_", "]", "_", "$", "")
	return replacer.Replace(id)
}
