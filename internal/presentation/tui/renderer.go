package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// CompositionMarkdown builds the describe view for a composition: its
// operator graph in document order, with step bindings and gate policies.
func CompositionMarkdown(comp domain.Composition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", comp.ID)
	if comp.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", comp.Description)
	}
	if len(comp.Primitives) > 0 {
		fmt.Fprintf(&sb, "**Primitives:** %s\n\n", strings.Join(comp.Primitives, ", "))
	}

	fmt.Fprintf(&sb, "## Operators\n\n")
	for i, op := range comp.Operators {
		fmt.Fprintf(&sb, "%d. **%s** `%s`\n", i+1, op.ID, op.Kind)
		switch op.Kind {
		case domain.OpSequence:
			writeSteps(&sb, op.Sequence.Steps)
		case domain.OpParallel:
			writeSteps(&sb, op.Parallel.Steps)
		case domain.OpGate:
			for _, c := range op.Gate.Conditions {
				fmt.Fprintf(&sb, "   - check `%s`", c.ID)
				if c.Expression != "" {
					fmt.Fprintf(&sb, ": `%s`", c.Expression)
				}
				sb.WriteString("\n")
			}
			onFail := op.Gate.OnFail
			if onFail == "" {
				onFail = domain.GateAbort
			}
			fmt.Fprintf(&sb, "   - on failure: `%s`\n", onFail)
		case domain.OpIterate:
			writeSteps(&sb, op.Iterate.Steps)
			fmt.Fprintf(&sb, "   - up to %d rounds", op.Iterate.MaxIterations)
			if op.Iterate.ExitCondition != "" {
				fmt.Fprintf(&sb, ", exits when `%s`", op.Iterate.ExitCondition)
			}
			sb.WriteString("\n")
		case domain.OpMap:
			fmt.Fprintf(&sb, "   - `%s` fanned out over `%s`\n", op.Map.Step.Primitive, op.Map.Over)
		case domain.OpAggregate:
			fmt.Fprintf(&sb, "   - merges %s with `%s`\n",
				strings.Join(op.Aggregate.Steps, ", "), op.Aggregate.Strategy)
		case domain.OpFilter:
			fmt.Fprintf(&sb, "   - keeps elements of `%s` matching `%s`\n",
				op.Filter.Step, op.Filter.Predicate)
		}
	}
	return sb.String()
}

func writeSteps(sb *strings.Builder, steps []domain.StepRef) {
	for _, step := range steps {
		fmt.Fprintf(sb, "   - `%s` → %s\n", step.ID, step.Primitive)
	}
}

// EpisodeMarkdown builds the post-run summary view of an episode.
func EpisodeMarkdown(ep *domain.Episode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run %s\n\n", ep.RunID)
	fmt.Fprintf(&sb, "**Composition:** %s  \n**Status:** %s\n\n", ep.CompositionID, ep.Status)
	if ep.Error != "" {
		fmt.Fprintf(&sb, "> %s\n\n", ep.Error)
	}
	if ep.FlaggedForReview {
		fmt.Fprintf(&sb, "> Flagged for review: %s\n\n", ep.ReviewReason)
	}

	if len(ep.Steps) > 0 {
		sb.WriteString("## Steps\n\n")
		sb.WriteString("| Step | Primitive | Status | Duration |\n")
		sb.WriteString("|------|-----------|--------|----------|\n")
		for _, step := range ep.Steps {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
				step.StepID, step.Primitive, step.Status, step.Duration)
		}
		sb.WriteString("\n")
	}

	if len(ep.Rollbacks) > 0 {
		fmt.Fprintf(&sb, "**Rollbacks:** %s\n\n", strings.Join(ep.Rollbacks, ", "))
	}
	fmt.Fprintf(&sb, "**Usage:** %d steps, %d tokens, %s\n",
		ep.Usage.Steps, ep.Usage.Tokens, ep.Usage.Elapsed)
	return sb.String()
}
