/*
Package lattice is a composition execution core: an interpreter that runs
typed primitives wired together by control-flow operators, under contract
validation, checkpointing and graduated human escalation.

It separates the composition graph (Logic) from the execution state (Run)
and side-effects (primitive bodies). The engine manages operator stepping,
reference binding, budget accounting and persistence, while your
application ("Host") provides the primitive bodies and reacts to
escalations. This hexagonal architecture lets lattice be embedded in any
surface: CLI, HTTP server, or MCP agent infrastructure.

# Key Features

  - Contract-checked execution: preconditions, postconditions and schema
    validation around every primitive call, with evidence recorded to an
    append-only ledger.
  - Step-wise interpretation: one operator per step, suspendable at gates
    and resumable after a human decision.
  - Checkpoint and rollback: checksummed snapshots of execution state,
    restored automatically on fatal failures.
  - Health-driven escalation: derived run health selects an autonomy
    level; low health suspends the run for review.
  - Hexagonal architecture: storage, notification and verification live
    behind ports with memory, file, sqlite, redis, postgres and MQTT
    adapters.

# Usage

Register primitive bodies, load a composition document (or register one in
code) and execute:

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/lattice"
		"github.com/aretw0/lattice/pkg/domain"
	)

	func main() {
		engine, err := lattice.New()
		if err != nil {
			log.Fatal(err)
		}

		err = engine.RegisterPrimitive(domain.Primitive{
			ID: "greet",
			Body: func(ctx context.Context, inv domain.Invocation) (map[string]any, error) {
				return map[string]any{"message": fmt.Sprintf("hello, %v", inv.Inputs["name"])}, nil
			},
		})
		if err != nil {
			log.Fatal(err)
		}

		err = engine.RegisterComposition(domain.Composition{
			ID:         "hello",
			Primitives: []string{"greet"},
			Operators: []domain.Operator{{
				ID:   "main",
				Kind: domain.OpSequence,
				Sequence: &domain.SequenceOp{Steps: []domain.StepRef{
					{ID: "say", Primitive: "greet", Inputs: map[string]any{"name": "$inputs.name"}},
				}},
			}},
		})
		if err != nil {
			log.Fatal(err)
		}

		episode, err := engine.Execute(context.Background(), "hello", map[string]any{"name": "world"})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(episode.Steps[0].Output["message"])
	}

Long-lived hosts use Start instead of Execute to hold a *Run handle, poll
its Status, and Resume it with a decision payload when a gate escalates.
*/
package lattice
