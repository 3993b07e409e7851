package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/pkg/domain"
)

// RegisterBuiltins installs the primitive library the CLI ships with, so
// composition documents can run without writing Go code. Contracts declared
// in the loaded documents attach to these at registration time.
func RegisterBuiltins(engine *lattice.Engine) error {
	builtins := []domain.Primitive{
		{
			ID:          "emit",
			Description: "Returns its resolved inputs unchanged.",
			Body: func(_ context.Context, inv domain.Invocation) (map[string]any, error) {
				out := make(map[string]any, len(inv.Inputs))
				for k, v := range inv.Inputs {
					out[k] = v
				}
				return out, nil
			},
		},
		{
			ID:          "read_file",
			Description: "Reads a text file from the working tree.",
			Body: func(_ context.Context, inv domain.Invocation) (map[string]any, error) {
				path, _ := inv.Inputs["path"].(string)
				if path == "" {
					return nil, fmt.Errorf("read_file requires a path input")
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("failed to read %s: %w", path, err)
				}
				return map[string]any{"path": path, "content": string(data), "bytes": float64(len(data))}, nil
			},
		},
		{
			ID:          "scan_markers",
			Description: "Scans text for review markers (TODO, FIXME, XXX) and reports findings.",
			Body: func(_ context.Context, inv domain.Invocation) (map[string]any, error) {
				text, _ := inv.Inputs["text"].(string)
				source, _ := inv.Inputs["source"].(string)

				var findings []any
				for i, line := range strings.Split(text, "\n") {
					for _, marker := range []string{"TODO", "FIXME", "XXX"} {
						if strings.Contains(line, marker) {
							severity := "low"
							if marker == "FIXME" || marker == "XXX" {
								severity = "high"
							}
							findings = append(findings, map[string]any{
								"source":   source,
								"line":     float64(i + 1),
								"marker":   marker,
								"severity": severity,
								"text":     strings.TrimSpace(line),
							})
						}
					}
				}
				return map[string]any{"findings": findings, "count": float64(len(findings))}, nil
			},
		},
		{
			ID:          "word_count",
			Description: "Counts words and lines in a text input.",
			Body: func(_ context.Context, inv domain.Invocation) (map[string]any, error) {
				text, _ := inv.Inputs["text"].(string)
				return map[string]any{
					"words": float64(len(strings.Fields(text))),
					"lines": float64(len(strings.Split(text, "\n"))),
				}, nil
			},
		},
		{
			ID:          "score_text",
			Description: "Scores text density in [0,1]: the fraction of non-blank lines.",
			Body: func(_ context.Context, inv domain.Invocation) (map[string]any, error) {
				text, _ := inv.Inputs["text"].(string)
				lines := strings.Split(text, "\n")
				if len(lines) == 0 {
					return map[string]any{"score": 0.0}, nil
				}
				nonBlank := 0
				for _, line := range lines {
					if strings.TrimSpace(line) != "" {
						nonBlank++
					}
				}
				return map[string]any{"score": float64(nonBlank) / float64(len(lines))}, nil
			},
		},
		{
			ID:          "fail",
			Description: "Always fails; exercises failure handling and rollback paths.",
			Body: func(_ context.Context, inv domain.Invocation) (map[string]any, error) {
				reason, _ := inv.Inputs["reason"].(string)
				if reason == "" {
					reason = "deliberate failure"
				}
				return nil, fmt.Errorf("%s", reason)
			},
		},
	}

	for _, p := range builtins {
		if err := engine.RegisterPrimitive(p); err != nil {
			return fmt.Errorf("failed to register builtin %q: %w", p.ID, err)
		}
	}
	return nil
}
