package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/cli"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and maintain run checkpoints",
	Long: `Lists, verifies and prunes the checkpoints held by the configured
checkpoint store. Use the persistent --store flags to point at a durable
backend.`,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List the checkpoints of a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withEngine(cmd, func(ctx context.Context, engine *lattice.Engine) error {
			cps, err := engine.Checkpoints(ctx, args[0])
			if err != nil {
				return err
			}
			if len(cps) == 0 {
				fmt.Printf("No checkpoints for run %s\n", args[0])
				return nil
			}
			for _, cp := range cps {
				fmt.Printf("%s  %s  reason=%s  step=%s  health=%.2f\n",
					cp.ID, cp.CreatedAt.Format(time.RFC3339), cp.Meta.Reason, cp.Meta.StepID, cp.Meta.Health)
			}
			return nil
		})
	},
}

var checkpointsVerifyCmd = &cobra.Command{
	Use:   "verify <checkpoint-id>",
	Short: "Verify a checkpoint's integrity checksum",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withEngine(cmd, func(ctx context.Context, engine *lattice.Engine) error {
			if err := engine.VerifyCheckpoint(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Checkpoint %s is intact ✅\n", args[0])
			return nil
		})
	},
}

var checkpointsPruneCmd = &cobra.Command{
	Use:   "prune <run-id>",
	Short: "Delete checkpoints older than --max-age",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		withEngine(cmd, func(ctx context.Context, engine *lattice.Engine) error {
			pruned, err := engine.PruneCheckpoints(ctx, args[0], maxAge)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d checkpoint(s) from run %s\n", pruned, args[0])
			return nil
		})
	},
}

// withEngine builds an engine from the persistent backend flags, runs fn
// and exits non-zero on error.
func withEngine(cmd *cobra.Command, fn func(context.Context, *lattice.Engine) error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	engine, cleanup, err := cli.BuildEngine(cfg, backendsFromFlags(cmd), domain.LifecycleHooks{})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := fn(ctx, engine); err != nil {
		fmt.Printf("Error: %v\n", err)
		cleanup()
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsVerifyCmd)
	checkpointsCmd.AddCommand(checkpointsPruneCmd)

	checkpointsPruneCmd.Flags().Duration("max-age", 24*time.Hour, "Age beyond which checkpoints are deleted")
}
