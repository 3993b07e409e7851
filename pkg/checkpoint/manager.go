// Package checkpoint snapshots and restores execution state through a
// storage-agnostic store. Checkpoints carry a checksum and schema version
// so every restore is independently verified first; restoration is
// all-or-nothing.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/google/uuid"
)

// Policy carries the externally configured checkpoint behavior.
type Policy struct {
	// MaxAge prunes checkpoints older than this (the most recent one is
	// always preserved regardless of age).
	MaxAge time.Duration `yaml:"max_age"`

	// MaxCount caps checkpoints per run; oldest are pruned first. Zero
	// means unlimited.
	MaxCount int `yaml:"max_count"`

	// Interval is the number of executor steps between automatic checkpoints.
	Interval int `yaml:"interval"`

	// AutoRollback enables automatic restoration on trigger conditions.
	AutoRollback bool `yaml:"auto_rollback"`

	// HealthDropThreshold triggers auto-rollback when the health score has
	// dropped this much since the last checkpoint.
	HealthDropThreshold float64 `yaml:"health_drop_threshold"`

	// MaxConsecutiveFailures triggers auto-rollback at this failure streak.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// DefaultPolicy returns the development defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:                 24 * time.Hour,
		MaxCount:               20,
		Interval:               5,
		AutoRollback:           true,
		HealthDropThreshold:    0.2,
		MaxConsecutiveFailures: 3,
	}
}

// Manager creates, verifies, restores and prunes checkpoints.
// It never steps a run itself: callers quiesce the run (between steps)
// before invoking Create or Rollback.
type Manager struct {
	store  ports.CheckpointStore
	policy Policy
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithPolicy overrides the default policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// NewManager creates a manager over the given store.
func NewManager(store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		policy: DefaultPolicy(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the active policy.
func (m *Manager) Policy() Policy { return m.policy }

// Create serializes the execution state into an immutable, checksummed
// checkpoint and persists it. The state must be quiesced by the caller.
func (m *Manager) Create(ctx context.Context, state *domain.ExecutionState, reason string, health float64) (*domain.Checkpoint, error) {
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize execution state: %w", err)
	}

	cp := &domain.Checkpoint{
		ID:            uuid.NewString(),
		RunID:         state.RunID,
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: domain.CheckpointSchemaVersion,
		State:         blob,
		Checksum:      domain.StateChecksum(blob),
		Meta: domain.CheckpointMeta{
			Reason: reason,
			StepID: currentStep(state),
			Health: health,
		},
	}

	if err := m.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to persist checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint created",
		"checkpoint_id", cp.ID, "run_id", cp.RunID, "reason", reason, "health", health)
	return cp, nil
}

// Verify recomputes the checksum and validates schema-version compatibility.
// A checkpoint failing verification must never be used for restore.
func (m *Manager) Verify(ctx context.Context, id string) error {
	cp, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}
	return verify(cp)
}

func verify(cp *domain.Checkpoint) error {
	if cp.SchemaVersion != domain.CheckpointSchemaVersion {
		return &domain.CheckpointIntegrityError{
			CheckpointID: cp.ID,
			Reason:       fmt.Sprintf("schema version %d incompatible with %d", cp.SchemaVersion, domain.CheckpointSchemaVersion),
		}
	}
	if got := domain.StateChecksum(cp.State); got != cp.Checksum {
		return &domain.CheckpointIntegrityError{
			CheckpointID: cp.ID,
			Reason:       "checksum mismatch",
		}
	}
	return nil
}

// Rollback restores the execution state captured by a checkpoint.
// Restoration is all-or-nothing: on any failure the caller's state is left
// untouched and a RollbackFailureError (or integrity error) is returned.
func (m *Manager) Rollback(ctx context.Context, id string) (*domain.ExecutionState, error) {
	cp, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, &domain.RollbackFailureError{CheckpointID: id, Err: err}
	}
	if err := verify(cp); err != nil {
		return nil, err
	}

	var state domain.ExecutionState
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, &domain.RollbackFailureError{CheckpointID: id, Err: err}
	}

	m.logger.Info("rolled back to checkpoint",
		"checkpoint_id", cp.ID, "run_id", state.RunID, "reason", cp.Meta.Reason)
	return &state, nil
}

// Latest returns the most recent verified checkpoint for a run, skipping
// any checkpoint that fails verification.
func (m *Manager) Latest(ctx context.Context, runID string) (*domain.Checkpoint, error) {
	list, err := m.store.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := len(list) - 1; i >= 0; i-- {
		if err := verify(list[i]); err != nil {
			m.logger.Warn("skipping unverifiable checkpoint", "checkpoint_id", list[i].ID, "error", err)
			continue
		}
		return list[i], nil
	}
	return nil, domain.ErrCheckpointNotFound
}

// RollbackLatest restores the most recent verified checkpoint for a run.
func (m *Manager) RollbackLatest(ctx context.Context, runID string) (*domain.ExecutionState, *domain.Checkpoint, error) {
	cp, err := m.Latest(ctx, runID)
	if err != nil {
		return nil, nil, &domain.RollbackFailureError{CheckpointID: "latest", Err: err}
	}
	state, err := m.Rollback(ctx, cp.ID)
	if err != nil {
		return nil, nil, err
	}
	return state, cp, nil
}

// ShouldRollback evaluates the automatic rollback triggers.
func (m *Manager) ShouldRollback(healthDrop float64, consecutiveFailures int, fatal bool) bool {
	if !m.policy.AutoRollback {
		return false
	}
	if fatal {
		return true
	}
	if m.policy.HealthDropThreshold > 0 && healthDrop >= m.policy.HealthDropThreshold {
		return true
	}
	if m.policy.MaxConsecutiveFailures > 0 && consecutiveFailures >= m.policy.MaxConsecutiveFailures {
		return true
	}
	return false
}

// Prune removes checkpoints older than maxAge, always preserving the most
// recent one. It also enforces the policy's MaxCount. Returns the number
// of checkpoints removed.
func (m *Manager) Prune(ctx context.Context, runID string, maxAge time.Duration) (int, error) {
	list, err := m.store.List(ctx, runID)
	if err != nil {
		return 0, err
	}
	if len(list) <= 1 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0

	// The last element is the newest; it is never pruned.
	keep := list[:len(list)-1]
	overflow := 0
	if m.policy.MaxCount > 0 && len(list) > m.policy.MaxCount {
		overflow = len(list) - m.policy.MaxCount
	}

	for i, cp := range keep {
		expired := maxAge > 0 && cp.CreatedAt.Before(cutoff)
		if !expired && i >= overflow {
			continue
		}
		if err := m.store.Delete(ctx, cp.ID); err != nil {
			return removed, fmt.Errorf("failed to prune checkpoint %s: %w", cp.ID, err)
		}
		removed++
	}

	if removed > 0 {
		m.logger.Debug("pruned checkpoints", "run_id", runID, "removed", removed)
	}
	return removed, nil
}

func currentStep(state *domain.ExecutionState) string {
	if len(state.Completed) == 0 {
		return ""
	}
	return state.Completed[len(state.Completed)-1]
}
