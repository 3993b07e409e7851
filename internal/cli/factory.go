// Package cli wires configuration, storage adapters and the engine facade
// for the lattice command.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/config"
	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/adapters/file"
	"github.com/aretw0/lattice/pkg/adapters/httpapi"
	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/adapters/mqtt"
	"github.com/aretw0/lattice/pkg/adapters/postgres"
	"github.com/aretw0/lattice/pkg/adapters/redis"
	"github.com/aretw0/lattice/pkg/adapters/sqlite"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// Backends selects the storage and notification adapters from CLI flags.
type Backends struct {
	// Store is memory, file, redis or sqlite.
	Store     string
	StorePath string
	StoreAddr string

	// Ledger is memory, file or postgres.
	Ledger     string
	LedgerPath string
	LedgerDSN  string

	// MQTTBroker enables the MQTT escalation notifier when non-empty.
	MQTTBroker string
}

// BuildEngine assembles an engine from config and backend selection.
// The returned cleanup function closes any opened connections.
func BuildEngine(cfg config.Config, backends Backends, hooks domain.LifecycleHooks) (*lattice.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closeStore, err := openStore(backends)
	if err != nil {
		return nil, nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	ledger, closeLedger, err := openLedger(backends)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if closeLedger != nil {
		closers = append(closers, closeLedger)
	}

	opts := []lattice.Option{
		lattice.WithLogger(logging.New(parseLevel(cfg.LogLevel))),
		lattice.WithCheckpointStore(store),
		lattice.WithEvidenceLedger(ledger),
		lattice.WithCheckpointPolicy(cfg.Checkpoint),
		lattice.WithEscalationConfig(cfg.Escalation),
		lattice.WithHealthConfig(cfg.Health),
		lattice.WithDefaultBudget(cfg.Budget),
		lattice.WithRecursionLimit(cfg.RecursionLimit),
		lattice.WithLifecycleHooks(hooks),
	}

	if cfg.Verifier.URL != "" {
		opts = append(opts,
			lattice.WithVerifier(httpapi.NewVerifier(cfg.Verifier.URL)),
			lattice.WithConfidenceThreshold(cfg.Verifier.ConfidenceThreshold),
			lattice.WithVerifierTimeout(cfg.Verifier.Timeout),
		)
	}

	if backends.MQTTBroker != "" {
		notifier, err := mqtt.New(backends.MQTTBroker, "lattice-cli")
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect mqtt notifier: %w", err)
		}
		closers = append(closers, notifier.Close)
		opts = append(opts, lattice.WithNotifier(notifier))
	}

	engine, err := lattice.New(opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}

// Logger builds the slog logger matching the configured level.
func Logger(cfg config.Config) *slog.Logger {
	return logging.New(parseLevel(cfg.LogLevel))
}

func openStore(b Backends) (ports.CheckpointStore, func(), error) {
	switch strings.ToLower(b.Store) {
	case "", "memory":
		return memory.NewStore(), nil, nil
	case "file":
		return file.NewStore(b.StorePath), nil, nil
	case "redis":
		store := redis.New(b.StoreAddr, "", 0)
		return store, func() { store.Close() }, nil
	case "sqlite":
		path := b.StorePath
		if path == "" {
			path = ".lattice/checkpoints.db"
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint store %q (memory, file, redis, sqlite)", b.Store)
	}
}

func openLedger(b Backends) (ports.EvidenceLedger, func(), error) {
	switch strings.ToLower(b.Ledger) {
	case "", "memory":
		return memory.NewLedger(), nil, nil
	case "file":
		return file.NewLedger(b.LedgerPath), nil, nil
	case "postgres":
		if b.LedgerDSN == "" {
			return nil, nil, fmt.Errorf("postgres ledger requires --ledger-dsn")
		}
		ledger, err := postgres.Open(b.LedgerDSN)
		if err != nil {
			return nil, nil, err
		}
		return ledger, func() { ledger.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown evidence ledger %q (memory, file, postgres)", b.Ledger)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
