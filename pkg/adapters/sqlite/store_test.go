package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/sqlite"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Contract(t *testing.T) {
	ports.RunCheckpointStoreContract(t, newTestStore(t))
}

func TestStore_RejectsDuplicateID(t *testing.T) {
	store := newTestStore(t)
	blob := []byte(`{"run_id":"r1"}`)
	cp := &domain.Checkpoint{
		ID: "cp-1", RunID: "r1", CreatedAt: time.Now().UTC(),
		SchemaVersion: domain.CheckpointSchemaVersion,
		State:         blob, Checksum: domain.StateChecksum(blob),
	}

	require.NoError(t, store.Save(context.Background(), cp))
	assert.Error(t, store.Save(context.Background(), cp), "primary key enforces immutability")
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()

	store, err := sqlite.Open(path)
	require.NoError(t, err)
	blob := []byte(`{"run_id":"r1","cursor":2}`)
	require.NoError(t, store.Save(ctx, &domain.Checkpoint{
		ID: "cp-1", RunID: "r1", CreatedAt: time.Now().UTC().Truncate(time.Second),
		SchemaVersion: domain.CheckpointSchemaVersion,
		State:         blob, Checksum: domain.StateChecksum(blob),
		Meta:          domain.CheckpointMeta{Reason: "interval", Health: 0.75},
	}))
	require.NoError(t, store.Close())

	store, err = sqlite.Open(path)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, blob, loaded.State)
	assert.Equal(t, domain.StateChecksum(blob), loaded.Checksum)
	assert.Equal(t, "interval", loaded.Meta.Reason)
	assert.Equal(t, 0.75, loaded.Meta.Health)
}
