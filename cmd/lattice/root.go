package main

import (
	"fmt"
	"os"

	"github.com/aretw0/lattice/internal/cli"
	"github.com/aretw0/lattice/internal/compiler"
	"github.com/aretw0/lattice/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Lattice executes contract-checked compositions of primitives",
	Long: `Lattice interprets composition documents: typed primitives wired together
by control-flow operators, executed with contract validation, checkpoints
and human escalation.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the engine config file (YAML)")
	rootCmd.PersistentFlags().String("store", "memory", "Checkpoint store backend (memory, file, redis, sqlite)")
	rootCmd.PersistentFlags().String("store-path", "", "Base path for file/sqlite checkpoint stores")
	rootCmd.PersistentFlags().String("store-addr", "localhost:6379", "Address for the redis checkpoint store")
	rootCmd.PersistentFlags().String("ledger", "memory", "Evidence ledger backend (memory, file, postgres)")
	rootCmd.PersistentFlags().String("ledger-path", "", "Path for the file evidence ledger")
	rootCmd.PersistentFlags().String("ledger-dsn", "", "DSN for the postgres evidence ledger")
	rootCmd.PersistentFlags().String("mqtt", "", "MQTT broker URL for escalation notifications (optional)")
}

// loadConfig reads --config over the defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// resolveCompositionID picks the composition to act on: the explicit second
// argument, or the composition the document itself declares.
func resolveCompositionID(docPath string, args []string) (string, error) {
	if len(args) > 1 {
		return args[1], nil
	}
	doc, err := compiler.ParseFile(docPath)
	if err != nil {
		return "", err
	}
	if doc.Composition == nil {
		return "", fmt.Errorf("%s declares no composition; pass a composition id", docPath)
	}
	return doc.Composition.ID, nil
}

func backendsFromFlags(cmd *cobra.Command) cli.Backends {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return cli.Backends{
		Store:      get("store"),
		StorePath:  get("store-path"),
		StoreAddr:  get("store-addr"),
		Ledger:     get("ledger"),
		LedgerPath: get("ledger-path"),
		LedgerDSN:  get("ledger-dsn"),
		MQTTBroker: get("mqtt"),
	}
}
