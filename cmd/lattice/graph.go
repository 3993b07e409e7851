package main

import (
	"fmt"
	"os"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <document.yaml> [composition-id]",
	Short: "Export the composition graph visualization",
	Long:  `Outputs a Mermaid diagram (graph TD) representing the operator pipeline of a composition.`,
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		engine, err := lattice.New()
		if err != nil {
			fmt.Printf("Error initializing lattice: %v\n", err)
			os.Exit(1)
		}
		if err := engine.LoadFile(args[0]); err != nil {
			fmt.Printf("Error loading document: %v\n", err)
			os.Exit(1)
		}

		compositionID, err := resolveCompositionID(args[0], args)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		comp, err := engine.Describe(compositionID)
		if err != nil {
			fmt.Printf("Error inspecting composition: %v\n", err)
			os.Exit(1)
		}

		fmt.Print(graph.GenerateMermaid(comp, nil))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
