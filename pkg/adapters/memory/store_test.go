package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunCheckpointStoreContract(t, store)
}

func TestLedger_Append(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()

	require.NoError(t, ledger.Append(ctx, ports.LedgerEntry{Kind: "a", CorrelationID: "run-1"}))
	require.NoError(t, ledger.Append(ctx, ports.LedgerEntry{Kind: "b", CorrelationID: "run-2"}))

	assert.Len(t, ledger.Entries(), 2)
	assert.Len(t, ledger.EntriesFor("run-1"), 1)
	assert.Empty(t, ledger.EntriesFor("run-3"))
}
