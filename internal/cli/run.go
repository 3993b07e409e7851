package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/presentation/tui"
	"github.com/aretw0/lattice/pkg/domain"
	"golang.org/x/term"
)

// RunUX controls how a CLI run interacts with the terminal.
type RunUX struct {
	// JSON prints the episode as JSON instead of rendered markdown.
	JSON bool

	// AutoApprove answers every escalation with approval. Intended for
	// non-interactive pipelines; suspended runs fail otherwise when stdin
	// is not a terminal.
	AutoApprove bool

	Out io.Writer
	In  io.Reader
}

// RunComposition executes one composition and handles the approval loop
// for escalated runs.
func RunComposition(ctx context.Context, engine *lattice.Engine, compositionID string, inputs map[string]any, ux RunUX) error {
	if ux.Out == nil {
		ux.Out = os.Stdout
	}
	if ux.In == nil {
		ux.In = os.Stdin
	}

	run, err := engine.Start(compositionID, inputs)
	if err != nil {
		return err
	}

	for {
		_, runErr := run.Wait(ctx)

		if run.Status() == domain.RunEscalated {
			approved, decision, err := resolveEscalation(run, ux)
			if err != nil {
				return err
			}
			decision["approved"] = approved
			if err := run.Resume(ctx, decision); err != nil {
				return err
			}
			continue
		}

		printEpisode(engine.Episode(run.ID()), ux)
		return runErr
	}
}

// resolveEscalation asks the operator for a decision, or auto-approves.
func resolveEscalation(run *lattice.Run, ux RunUX) (bool, map[string]any, error) {
	state := run.State()
	fmt.Fprintf(ux.Out, "\nRun %s suspended, waiting for review.\n", run.ID())
	if pg := state.PendingGate; pg != nil && pg.Diagnostic != nil {
		fmt.Fprintf(ux.Out, "  reason: %s\n", pg.Diagnostic.Reason)
		if len(pg.Diagnostic.ConditionIDs) > 0 {
			fmt.Fprintf(ux.Out, "  failed checks: %s\n", strings.Join(pg.Diagnostic.ConditionIDs, ", "))
		}
	}

	if ux.AutoApprove {
		fmt.Fprintln(ux.Out, "  auto-approved (--approve)")
		return true, map[string]any{"reviewer": "auto"}, nil
	}

	stdin, isFile := ux.In.(*os.File)
	if isFile && !term.IsTerminal(int(stdin.Fd())) {
		return false, nil, fmt.Errorf("run %s needs interactive approval; re-run with --approve or use the HTTP decision endpoint", run.ID())
	}

	reader := bufio.NewReader(ux.In)
	fmt.Fprint(ux.Out, "Approve and continue? [y/N]: ")
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false, nil, fmt.Errorf("failed to read decision: %w", err)
	}
	approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y")

	decision := map[string]any{"reviewer": "cli"}
	if approved {
		fmt.Fprint(ux.Out, "Note (optional): ")
		note, err := reader.ReadString('\n')
		if err == nil && strings.TrimSpace(note) != "" {
			decision["note"] = strings.TrimSpace(note)
		}
	}
	return approved, decision, nil
}

func printEpisode(ep *domain.Episode, ux RunUX) {
	if ep == nil {
		return
	}
	if ux.JSON {
		data, err := json.MarshalIndent(ep, "", "  ")
		if err != nil {
			fmt.Fprintf(ux.Out, "failed to encode episode: %v\n", err)
			return
		}
		fmt.Fprintln(ux.Out, string(data))
		return
	}

	render := tui.NewRenderer()
	out, err := render(tui.EpisodeMarkdown(ep))
	if err != nil {
		fmt.Fprintln(ux.Out, tui.EpisodeMarkdown(ep))
		return
	}
	fmt.Fprint(ux.Out, out)
}

// ParseInputs decodes the --inputs JSON object flag.
func ParseInputs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	inputs := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
		return nil, fmt.Errorf("invalid --inputs (expected a JSON object): %w", err)
	}
	return inputs, nil
}
