package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/checkpoint"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(runID string) *domain.ExecutionState {
	state := domain.NewExecutionState(runID, "comp-1", map[string]any{"x": 1})
	state.Status = domain.RunRunning
	state.Outputs["stepA"] = map[string]any{"score": 0.9}
	state.MarkCompleted("stepA")
	return state
}

func TestCreateVerifyRollback_BitForBit(t *testing.T) {
	ctx := context.Background()
	mgr := checkpoint.NewManager(memory.NewStore())

	state := newState("run-1")
	cp, err := mgr.Create(ctx, state, "before risky step", 0.92)
	require.NoError(t, err)
	require.NoError(t, mgr.Verify(ctx, cp.ID))

	// Mutate the live state past the checkpoint.
	state.Cursor = 5
	state.Outputs["stepB"] = map[string]any{"score": 0.1}
	state.MarkCompleted("stepB")
	state.ConsecutiveFailures = 2

	restored, err := mgr.Rollback(ctx, cp.ID)
	require.NoError(t, err)

	// Restored state must match checkpoint time exactly: re-serializing it
	// yields the identical checksum.
	assert.Equal(t, 0, restored.Cursor)
	assert.Equal(t, []string{"stepA"}, restored.Completed)
	assert.NotContains(t, restored.Outputs, "stepB")

	recp, err := mgr.Create(ctx, restored, "recheck", 0.92)
	require.NoError(t, err)
	assert.Equal(t, cp.Checksum, recp.Checksum, "rollback must restore state bit-for-bit")
}

func TestVerify_TamperedChecksumNeverRestores(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mgr := checkpoint.NewManager(store)

	cp, err := mgr.Create(ctx, newState("run-2"), "baseline", 1.0)
	require.NoError(t, err)

	store.Corrupt(cp.ID)

	err = mgr.Verify(ctx, cp.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCheckpointIntegrity)

	_, err = mgr.Rollback(ctx, cp.ID)
	assert.ErrorIs(t, err, domain.ErrCheckpointIntegrity, "tampered checkpoint must never restore")
}

func TestRollback_MissingCheckpoint(t *testing.T) {
	ctx := context.Background()
	mgr := checkpoint.NewManager(memory.NewStore())

	_, err := mgr.Rollback(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrRollbackFailure)
}

func TestLatest_SkipsUnverifiable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mgr := checkpoint.NewManager(store)

	state := newState("run-3")
	first, err := mgr.Create(ctx, state, "first", 0.9)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := mgr.Create(ctx, state, "second", 0.8)
	require.NoError(t, err)

	// Newest is corrupted: Latest must fall back to the older verified one.
	store.Corrupt(second.ID)

	latest, err := mgr.Latest(ctx, "run-3")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	restored, cp, err := mgr.RollbackLatest(ctx, "run-3")
	require.NoError(t, err)
	assert.Equal(t, first.ID, cp.ID)
	assert.Equal(t, "run-3", restored.RunID)
}

func TestShouldRollback_Triggers(t *testing.T) {
	mgr := checkpoint.NewManager(memory.NewStore(), checkpoint.WithPolicy(checkpoint.Policy{
		AutoRollback:           true,
		HealthDropThreshold:    0.2,
		MaxConsecutiveFailures: 3,
	}))

	assert.True(t, mgr.ShouldRollback(0, 0, true), "fatal error")
	assert.True(t, mgr.ShouldRollback(0.25, 0, false), "health drop beyond threshold")
	assert.True(t, mgr.ShouldRollback(0, 3, false), "failure streak")
	assert.False(t, mgr.ShouldRollback(0.1, 2, false))

	disabled := checkpoint.NewManager(memory.NewStore(), checkpoint.WithPolicy(checkpoint.Policy{AutoRollback: false}))
	assert.False(t, disabled.ShouldRollback(1.0, 100, true), "auto-rollback disabled")
}

func TestPrune_PreservesNewest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mgr := checkpoint.NewManager(store, checkpoint.WithPolicy(checkpoint.Policy{MaxAge: time.Hour}))

	state := newState("run-4")
	var last *domain.Checkpoint
	for i := 0; i < 3; i++ {
		cp, err := mgr.Create(ctx, state, "cycle", 0.9)
		require.NoError(t, err)
		last = cp
		time.Sleep(2 * time.Millisecond)
	}

	// Nothing is old enough yet.
	removed, err := mgr.Prune(ctx, "run-4", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// Everything is "old" with a zero-ish bound, but the newest survives.
	removed, err = mgr.Prune(ctx, "run-4", time.Nanosecond)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err := store.List(ctx, "run-4")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, last.ID, list[0].ID)
}

func TestPrune_MaxCount(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mgr := checkpoint.NewManager(store, checkpoint.WithPolicy(checkpoint.Policy{MaxCount: 2}))

	state := newState("run-5")
	for i := 0; i < 4; i++ {
		_, err := mgr.Create(ctx, state, "cycle", 0.9)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	removed, err := mgr.Prune(ctx, "run-5", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err := store.List(ctx, "run-5")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
