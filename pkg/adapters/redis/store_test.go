package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	lredis "github.com/aretw0/lattice/pkg/adapters/redis"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...lredis.Option) (*lredis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lredis.NewFromClient(client, opts...), mr
}

func TestStore_Contract(t *testing.T) {
	store, _ := newTestStore(t)
	ports.RunCheckpointStoreContract(t, store)
}

func TestStore_RejectsDuplicateID(t *testing.T) {
	store, _ := newTestStore(t)
	blob := []byte(`{"run_id":"r1"}`)
	cp := &domain.Checkpoint{
		ID: "cp-1", RunID: "r1", CreatedAt: time.Now().UTC(),
		SchemaVersion: domain.CheckpointSchemaVersion,
		State:         blob, Checksum: domain.StateChecksum(blob),
	}

	require.NoError(t, store.Save(context.Background(), cp))
	assert.Error(t, store.Save(context.Background(), cp))
}

func TestStore_ExpiredBlobDropsOutOfIndex(t *testing.T) {
	store, mr := newTestStore(t, lredis.WithTTL(time.Minute))
	ctx := context.Background()

	blob := []byte(`{"run_id":"r1"}`)
	require.NoError(t, store.Save(ctx, &domain.Checkpoint{
		ID: "cp-ttl", RunID: "r1", CreatedAt: time.Now().UTC(),
		SchemaVersion: domain.CheckpointSchemaVersion,
		State:         blob, Checksum: domain.StateChecksum(blob),
	}))

	list, err := store.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	mr.FastForward(2 * time.Minute)

	list, err = store.List(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, list, "expired checkpoints are lazily removed from the index")
}
