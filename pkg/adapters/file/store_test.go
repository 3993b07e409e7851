package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/file"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Contract(t *testing.T) {
	ports.RunCheckpointStoreContract(t, file.NewStore(t.TempDir()))
}

func TestStore_RejectsDuplicateID(t *testing.T) {
	store := file.NewStore(t.TempDir())
	blob := []byte(`{"run_id":"r1"}`)
	cp := &domain.Checkpoint{
		ID: "cp-1", RunID: "r1", CreatedAt: time.Now().UTC(),
		SchemaVersion: domain.CheckpointSchemaVersion,
		State:         blob, Checksum: domain.StateChecksum(blob),
	}

	require.NoError(t, store.Save(context.Background(), cp))
	assert.Error(t, store.Save(context.Background(), cp), "checkpoints are immutable")
}

func TestStore_NoPartialFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store := file.NewStore(dir)
	blob := []byte(`{"run_id":"r1"}`)
	require.NoError(t, store.Save(context.Background(), &domain.Checkpoint{
		ID: "cp-1", RunID: "r1", CreatedAt: time.Now().UTC(),
		SchemaVersion: domain.CheckpointSchemaVersion,
		State:         blob, Checksum: domain.StateChecksum(blob),
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cp-1.json", entries[0].Name())
}

func TestLedger_AppendAndRead(t *testing.T) {
	ledger := file.NewLedger(filepath.Join(t.TempDir(), "ledger.ndjson"))
	ctx := context.Background()

	for i, kind := range []string{"episode.run_started", "episode.step", "episode.run_finished"} {
		require.NoError(t, ledger.Append(ctx, ports.LedgerEntry{
			Kind:          kind,
			CorrelationID: "run-1",
			Payload:       map[string]any{"seq": float64(i)},
			Timestamp:     time.Now().UTC(),
		}))
	}

	entries, err := ledger.Read()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "episode.run_started", entries[0].Kind)
	assert.Equal(t, "episode.run_finished", entries[2].Kind)
	assert.Equal(t, float64(1), entries[1].Payload["seq"])
}

func TestLedger_ReadMissingFile(t *testing.T) {
	ledger := file.NewLedger(filepath.Join(t.TempDir(), "none.ndjson"))
	entries, err := ledger.Read()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
