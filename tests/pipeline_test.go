package tests

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/cli"
	"github.com/aretw0/lattice/pkg/adapters/file"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTriageEngine builds an engine with durable file adapters and the
// builtin primitive library, loaded from the fixtures directory.
func newTriageEngine(t *testing.T) (*lattice.Engine, *file.Ledger) {
	t.Helper()

	dir := t.TempDir()
	ledger := file.NewLedger(filepath.Join(dir, "ledger.ndjson"))

	engine, err := lattice.New(
		lattice.WithCheckpointStore(file.NewStore(filepath.Join(dir, "checkpoints"))),
		lattice.WithEvidenceLedger(ledger),
	)
	require.NoError(t, err)

	require.NoError(t, engine.LoadDir("fixtures"))
	require.NoError(t, cli.RegisterBuiltins(engine))
	return engine, ledger
}

func TestTriagePipeline_EndToEnd(t *testing.T) {
	engine, ledger := newTriageEngine(t)

	inputs := map[string]any{
		"left":  "TODO: tidy the parser\nall good here\nFIXME: off by one",
		"right": "XXX remove before release\nplain line",
	}

	episode, err := engine.Execute(context.Background(), "triage", inputs)
	require.NoError(t, err)
	require.Equal(t, domain.RunCompleted, episode.Status)

	run, ok := engine.Run(episode.RunID)
	require.True(t, ok)
	state := run.State()

	// Parallel scans merged by the aggregate, then filtered to high severity.
	merged := state.Outputs["merged"].(map[string]any)
	assert.Equal(t, 3, merged["count"])
	serious := state.Outputs["serious"].(map[string]any)
	assert.Equal(t, float64(2), serious["kept"])
	assert.Equal(t, float64(1), serious["dropped"])

	// Map fanned word_count over the two kept findings.
	sized := state.Outputs["sized"].(map[string]any)
	assert.Equal(t, float64(2), sized["succeeded"])
	assert.Equal(t, float64(0), sized["failed"])

	// Iterate stopped on its exit condition, not the round cap.
	polish := state.Outputs["polish"].(map[string]any)
	assert.Equal(t, float64(2), polish["rounds"])
	assert.Equal(t, "condition", polish["exited_by"])

	summary := state.Outputs["summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["high_findings"])

	// Declared contract costs: 2 scans, 2 word counts, 3 emits.
	assert.Equal(t, int64(53), episode.Usage.Tokens)

	// Checkpoints landed in the file store and verify cleanly.
	cps, err := engine.Checkpoints(context.Background(), episode.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, cps)
	for _, cp := range cps {
		require.NoError(t, engine.VerifyCheckpoint(context.Background(), cp.ID))
	}

	// Every step left evidence in the ledger.
	entries, err := ledger.Read()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	kinds := make(map[string]bool)
	for _, e := range entries {
		assert.Equal(t, episode.RunID, e.CorrelationID)
		kinds[e.Kind] = true
	}
	assert.True(t, kinds["episode.run_started"])
	assert.True(t, kinds["episode.step"])
	assert.True(t, kinds["episode.run_finished"])
}

func TestTriagePipeline_GateAbortsOnFloodOfFindings(t *testing.T) {
	engine, _ := newTriageEngine(t)

	var sb strings.Builder
	for i := 0; i < 12; i++ {
		sb.WriteString("FIXME: problem\n")
	}

	run, err := engine.Start("triage", map[string]any{
		"left": sb.String(), "right": "clean",
	})
	require.NoError(t, err)

	_, err = run.Wait(context.Background())
	require.ErrorIs(t, err, domain.ErrGateAbort)
	assert.Equal(t, domain.RunAborted, run.Status())

	// Nothing past the gate executed.
	assert.NotContains(t, run.State().Outputs, "summary")
}
