package main

import (
	"fmt"
	"os"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/presentation/tui"
	"github.com/spf13/cobra"
)

// describeCmd represents the describe command
var describeCmd = &cobra.Command{
	Use:   "describe <document.yaml> [composition-id]",
	Short: "Render a composition document for reading",
	Long:  `Prints a composition's primitives and operator pipeline as rendered markdown.`,
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := describe(args); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func describe(args []string) error {
	engine, err := lattice.New()
	if err != nil {
		return err
	}
	if err := engine.LoadFile(args[0]); err != nil {
		return err
	}

	compositionID, err := resolveCompositionID(args[0], args)
	if err != nil {
		return err
	}

	comp, err := engine.Describe(compositionID)
	if err != nil {
		return err
	}

	tui.PrintBanner()

	markdown := tui.CompositionMarkdown(comp)
	render := tui.NewRenderer()
	out, err := render(markdown)
	if err != nil {
		// Fall back to the raw markdown when the terminal profile is odd.
		fmt.Println(markdown)
		return nil
	}
	fmt.Print(out)
	return nil
}

func init() {
	rootCmd.AddCommand(describeCmd)
}
