package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/lattice/internal/cli"
	"github.com/aretw0/lattice/internal/metrics"
	"github.com/aretw0/lattice/pkg/adapters/httpapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control plane",
	Long: `Loads composition documents from a directory and exposes the engine as
a JSON API over HTTP, with Prometheus metrics on /metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(cmd); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func serve(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("dir")
	port, _ := cmd.Flags().GetString("port")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)

	engine, cleanup, err := cli.BuildEngine(cfg, backendsFromFlags(cmd), collectors.Hooks())
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.LoadDir(dir); err != nil {
		return err
	}
	if err := cli.RegisterBuiltins(engine); err != nil {
		return err
	}

	handler := httpapi.NewHandler(engine,
		httpapi.WithLogger(cli.Logger(cfg)),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		fmt.Printf("Starting Lattice Server on %s\n", srv.Addr)
		fmt.Printf("Serving compositions from: %s\n", dir)
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt or terminate signals.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("could not stop server: %w", err)
			}
		}
		fmt.Println("Lattice Server stopped gracefully")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("dir", "d", ".", "Directory of composition documents")
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
}
