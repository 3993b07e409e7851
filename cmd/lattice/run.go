package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/lattice/internal/cli"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <document.yaml> [composition-id]",
	Short: "Execute a composition document",
	Long: `Loads a composition document, registers the builtin primitive library
and executes the composition. Escalated runs prompt for approval on the
terminal.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runComposition(cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func runComposition(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	engine, cleanup, err := cli.BuildEngine(cfg, backendsFromFlags(cmd), domain.LifecycleHooks{})
	if err != nil {
		return err
	}
	defer cleanup()

	docPath := args[0]
	if err := engine.LoadFile(docPath); err != nil {
		return err
	}
	if err := cli.RegisterBuiltins(engine); err != nil {
		return err
	}

	compositionID, err := resolveCompositionID(docPath, args)
	if err != nil {
		return err
	}

	rawInputs, _ := cmd.Flags().GetString("inputs")
	inputs, err := cli.ParseInputs(rawInputs)
	if err != nil {
		return err
	}

	jsonMode, _ := cmd.Flags().GetBool("json")
	autoApprove, _ := cmd.Flags().GetBool("approve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.RunComposition(ctx, engine, compositionID, inputs, cli.RunUX{
		JSON:        jsonMode,
		AutoApprove: autoApprove,
	})
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("inputs", "", "Run inputs as a JSON object")
	runCmd.Flags().Bool("json", false, "Print the episode as JSON")
	runCmd.Flags().Bool("approve", false, "Auto-approve escalations (non-interactive)")
}
