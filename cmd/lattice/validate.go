package main

import (
	"fmt"
	"os"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [document.yaml | dir]",
	Short: "Check composition documents for consistency",
	Long: `Parses composition documents and reports duplicate ids, unknown
primitives, malformed operator bodies and unresolvable references.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(args); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Documents are valid! ✅")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(args []string) error {
	var path string
	var err error

	if len(args) > 0 {
		path = args[0]
	} else {
		path, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	// A throwaway in-memory engine runs the same static validation the
	// loaders run, including contract schema parsing on attach.
	engine, err := lattice.New()
	if err != nil {
		return fmt.Errorf("failed to init engine: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		err = engine.LoadDir(path)
	} else {
		err = engine.LoadFile(path)
	}
	if err != nil {
		return err
	}

	return cli.RegisterBuiltins(engine)
}
