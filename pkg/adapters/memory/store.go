// Package memory provides in-memory implementations of the checkpoint
// store and the evidence ledger. Default backends for tests and embedded use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// Store implements ports.CheckpointStore backed by a map.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]*domain.Checkpoint
}

// NewStore creates an empty in-memory checkpoint store.
func NewStore() *Store {
	return &Store{checkpoints: make(map[string]*domain.Checkpoint)}
}

// Save persists a checkpoint. Saving an existing id is rejected:
// checkpoints are immutable, superseded rather than overwritten.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.ID == "" {
		return fmt.Errorf("checkpoint missing id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checkpoints[cp.ID]; exists {
		return fmt.Errorf("checkpoint %s already exists", cp.ID)
	}

	clone := *cp
	clone.State = append([]byte(nil), cp.State...)
	s.checkpoints[cp.ID] = &clone
	return nil
}

// Load retrieves a checkpoint by id.
func (s *Store) Load(ctx context.Context, id string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, domain.ErrCheckpointNotFound
	}

	clone := *cp
	clone.State = append([]byte(nil), cp.State...)
	return &clone, nil
}

// Delete removes a checkpoint by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, id)
	return nil
}

// List returns all checkpoints for a run, ordered by creation time ascending.
func (s *Store) List(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.RunID != runID {
			continue
		}
		clone := *cp
		clone.State = append([]byte(nil), cp.State...)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Corrupt flips the stored blob of a checkpoint in place. Test hook for
// integrity-failure paths; never used by production code.
func (s *Store) Corrupt(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.checkpoints[id]; ok && len(cp.State) > 0 {
		cp.State[0] ^= 0xFF
	}
}

// Ledger implements ports.EvidenceLedger backed by an append-only slice.
type Ledger struct {
	mu      sync.Mutex
	entries []ports.LedgerEntry
}

// NewLedger creates an empty in-memory evidence ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds one entry. Each append is individually atomic.
func (l *Ledger) Append(ctx context.Context, entry ports.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a snapshot of everything appended so far.
func (l *Ledger) Entries() []ports.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ports.LedgerEntry(nil), l.entries...)
}

// EntriesFor returns the entries correlated with one run.
func (l *Ledger) EntriesFor(runID string) []ports.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ports.LedgerEntry
	for _, e := range l.entries {
		if e.CorrelationID == runID {
			out = append(out, e)
		}
	}
	return out
}
