package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreContract runs a suite of tests to verify that a
// CheckpointStore implementation adheres to the defined interface contract.
// Every adapter's test file calls this against its own store.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	runID := "contract-test-run-" + time.Now().Format("20060102150405")

	mkCheckpoint := func(id string, createdAt time.Time) *domain.Checkpoint {
		blob := []byte(`{"run_id":"` + runID + `","cursor":1}`)
		return &domain.Checkpoint{
			ID:            id,
			RunID:         runID,
			CreatedAt:     createdAt,
			SchemaVersion: domain.CheckpointSchemaVersion,
			State:         blob,
			Checksum:      domain.StateChecksum(blob),
			Meta:          domain.CheckpointMeta{Reason: "contract-test", StepID: "step-1", Health: 0.9},
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		cp := mkCheckpoint(runID+"-cp1", time.Now().UTC().Truncate(time.Second))

		err := store.Save(ctx, cp)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, cp.ID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, cp.ID, loaded.ID)
		assert.Equal(t, cp.RunID, loaded.RunID)
		assert.Equal(t, cp.SchemaVersion, loaded.SchemaVersion)
		assert.Equal(t, cp.Meta.Reason, loaded.Meta.Reason)

		// Stored bytes must round-trip exactly, or checksum verification
		// becomes backend-dependent.
		assert.Equal(t, cp.State, loaded.State)
		assert.Equal(t, cp.Checksum, loaded.Checksum)
		assert.Equal(t, cp.Checksum, domain.StateChecksum(loaded.State))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		cp := mkCheckpoint(runID+"-cp-del", time.Now().UTC())
		require.NoError(t, store.Save(ctx, cp))

		require.NoError(t, store.Delete(ctx, cp.ID))

		_, err := store.Load(ctx, cp.ID)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound, "Load after Delete should return ErrCheckpointNotFound")

		assert.NoError(t, store.Delete(ctx, cp.ID), "deleting a missing id is not an error")
	})

	t.Run("List Ordered By CreationTime", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Second)
		older := mkCheckpoint(runID+"-cp-older", base.Add(-2*time.Minute))
		newer := mkCheckpoint(runID+"-cp-newer", base.Add(-1*time.Minute))

		// Save out of order on purpose.
		require.NoError(t, store.Save(ctx, newer))
		require.NoError(t, store.Save(ctx, older))

		defer func() {
			_ = store.Delete(ctx, older.ID)
			_ = store.Delete(ctx, newer.ID)
		}()

		list, err := store.List(ctx, runID)
		require.NoError(t, err)

		var ids []string
		for _, cp := range list {
			ids = append(ids, cp.ID)
		}
		require.Contains(t, ids, older.ID)
		require.Contains(t, ids, newer.ID)

		olderIdx, newerIdx := indexOf(ids, older.ID), indexOf(ids, newer.ID)
		assert.Less(t, olderIdx, newerIdx, "List must order by creation time ascending")
	})

	t.Run("List Isolates Runs", func(t *testing.T) {
		list, err := store.List(ctx, "other-run-"+runID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
