// Package episode records the append-only audit trace of composition runs
// and mirrors every event into the external evidence ledger.
package episode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// Ledger entry kinds written by the recorder.
const (
	EntryRunStarted  = "episode.run_started"
	EntryStep        = "episode.step"
	EntryRollback    = "episode.rollback"
	EntryReviewFlag  = "episode.flagged_for_review"
	EntryRunFinished = "episode.run_finished"
)

// Recorder owns episodes. The executor only appends; episodes are never
// rewritten. Concurrent appends from parallel branches are serialized here,
// so each append is individually atomic.
type Recorder struct {
	ledger ports.EvidenceLedger
	logger *slog.Logger

	mu       sync.Mutex
	episodes map[string]*domain.Episode
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the structured logger used for ledger append failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates a recorder writing through the given ledger.
// A nil ledger keeps episodes in memory only.
func NewRecorder(ledger ports.EvidenceLedger, opts ...Option) *Recorder {
	r := &Recorder{
		ledger:   ledger,
		logger:   logging.NewNop(),
		episodes: make(map[string]*domain.Episode),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin opens the episode for a run.
func (r *Recorder) Begin(ctx context.Context, runID, compositionID string, inputs map[string]any) {
	r.mu.Lock()
	r.episodes[runID] = &domain.Episode{
		RunID:         runID,
		CompositionID: compositionID,
		Inputs:        inputs,
		Status:        domain.RunRunning,
		StartedAt:     time.Now().UTC(),
	}
	r.mu.Unlock()

	r.append(ctx, runID, EntryRunStarted, map[string]any{
		"composition_id": compositionID,
	})
}

// RecordStep appends one step result to the run's episode.
func (r *Recorder) RecordStep(ctx context.Context, runID string, result domain.StepResult) {
	r.mu.Lock()
	if ep, ok := r.episodes[runID]; ok {
		ep.Steps = append(ep.Steps, result)
	}
	r.mu.Unlock()

	r.append(ctx, runID, EntryStep, map[string]any{
		"step_id":   result.StepID,
		"primitive": result.Primitive,
		"status":    string(result.Status),
		"error":     result.Error,
	})
}

// RecordRollback notes that the run was restored from a checkpoint.
func (r *Recorder) RecordRollback(ctx context.Context, runID, checkpointID, reason string) {
	r.mu.Lock()
	if ep, ok := r.episodes[runID]; ok {
		ep.Rollbacks = append(ep.Rollbacks, checkpointID)
	}
	r.mu.Unlock()

	r.append(ctx, runID, EntryRollback, map[string]any{
		"checkpoint_id": checkpointID,
		"reason":        reason,
	})
}

// FlagForReview marks the episode for asynchronous human review.
func (r *Recorder) FlagForReview(ctx context.Context, runID, reason string) {
	r.mu.Lock()
	if ep, ok := r.episodes[runID]; ok {
		ep.FlaggedForReview = true
		ep.ReviewReason = reason
	}
	r.mu.Unlock()

	r.append(ctx, runID, EntryReviewFlag, map[string]any{"reason": reason})
}

// End closes the episode with its final status and returns it.
func (r *Recorder) End(ctx context.Context, runID string, status domain.RunStatus, errMsg string, usage domain.Usage) *domain.Episode {
	r.mu.Lock()
	ep, ok := r.episodes[runID]
	if ok {
		ep.Status = status
		ep.Error = errMsg
		ep.Usage = usage
		ep.EndedAt = time.Now().UTC()
	}
	r.mu.Unlock()

	r.append(ctx, runID, EntryRunFinished, map[string]any{
		"status": string(status),
		"error":  errMsg,
		"tokens": usage.Tokens,
		"steps":  usage.Steps,
	})
	return ep
}

// Get returns the episode for a run, or nil if unknown.
func (r *Recorder) Get(runID string) *domain.Episode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.episodes[runID]
}

// List returns all episodes, most recent first.
func (r *Recorder) List() []*domain.Episode {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Episode, 0, len(r.episodes))
	for _, ep := range r.episodes {
		out = append(out, ep)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].StartedAt.After(out[i].StartedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// append writes through to the evidence ledger. Failures are logged and
// swallowed: losing an audit mirror must not abort a run.
func (r *Recorder) append(ctx context.Context, runID, kind string, payload map[string]any) {
	if r.ledger == nil {
		return
	}
	entry := ports.LedgerEntry{
		Kind:          kind,
		CorrelationID: runID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
	if err := r.ledger.Append(ctx, entry); err != nil {
		r.logger.Warn("evidence ledger append failed", "kind", kind, "run_id", runID, "error", err)
	}
}
