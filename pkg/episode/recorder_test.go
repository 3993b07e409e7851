package episode_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/episode"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLedger captures appended entries; optionally fails every append.
type recordingLedger struct {
	mu      sync.Mutex
	entries []ports.LedgerEntry
	fail    bool
}

func (l *recordingLedger) Append(_ context.Context, entry ports.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errors.New("ledger unavailable")
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *recordingLedger) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		out = append(out, e.Kind)
	}
	return out
}

func TestRecorder_FullRunTrace(t *testing.T) {
	ctx := context.Background()
	ledger := &recordingLedger{}
	rec := episode.NewRecorder(ledger)

	rec.Begin(ctx, "run-1", "comp-1", map[string]any{"x": 1})
	rec.RecordStep(ctx, "run-1", domain.StepResult{StepID: "a", Status: domain.StepSucceeded})
	rec.RecordStep(ctx, "run-1", domain.StepResult{StepID: "b", Status: domain.StepFailed, Error: "boom"})
	rec.RecordRollback(ctx, "run-1", "cp-1", "consecutive failures")
	rec.FlagForReview(ctx, "run-1", "gate flagged")
	ep := rec.End(ctx, "run-1", domain.RunFailed, "boom", domain.Usage{Tokens: 12, Steps: 2})

	require.NotNil(t, ep)
	assert.Equal(t, domain.RunFailed, ep.Status)
	assert.Len(t, ep.Steps, 2)
	assert.Equal(t, []string{"cp-1"}, ep.Rollbacks)
	assert.True(t, ep.FlaggedForReview)
	assert.Equal(t, int64(12), ep.Usage.Tokens)
	assert.False(t, ep.EndedAt.IsZero())

	assert.Equal(t, []string{
		episode.EntryRunStarted,
		episode.EntryStep,
		episode.EntryStep,
		episode.EntryRollback,
		episode.EntryReviewFlag,
		episode.EntryRunFinished,
	}, ledger.kinds())

	for _, e := range ledger.entries {
		assert.Equal(t, "run-1", e.CorrelationID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestRecorder_LedgerFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	rec := episode.NewRecorder(&recordingLedger{fail: true})

	rec.Begin(ctx, "run-2", "comp-1", nil)
	rec.RecordStep(ctx, "run-2", domain.StepResult{StepID: "a", Status: domain.StepSucceeded})
	ep := rec.End(ctx, "run-2", domain.RunCompleted, "", domain.Usage{})

	// The in-memory episode survives even when every append fails.
	require.NotNil(t, ep)
	assert.Equal(t, domain.RunCompleted, ep.Status)
	assert.Len(t, ep.Steps, 1)
}

func TestRecorder_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	rec := episode.NewRecorder(&recordingLedger{})
	rec.Begin(ctx, "run-3", "comp-1", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec.RecordStep(ctx, "run-3", domain.StepResult{StepID: "s", Status: domain.StepSucceeded})
		}(i)
	}
	wg.Wait()

	ep := rec.Get("run-3")
	require.NotNil(t, ep)
	assert.Len(t, ep.Steps, 20, "all appends for a run must be observable")
}

func TestRecorder_ListOrdering(t *testing.T) {
	ctx := context.Background()
	rec := episode.NewRecorder(nil)

	rec.Begin(ctx, "old", "comp-1", nil)
	rec.Begin(ctx, "new", "comp-1", nil)

	list := rec.List()
	require.Len(t, list, 2)
	assert.Nil(t, rec.Get("missing"))
}
