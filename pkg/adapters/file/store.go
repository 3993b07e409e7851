// Package file provides filesystem-backed persistence: a checkpoint store
// with atomic temp-file writes and an append-only NDJSON evidence ledger.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// Store implements ports.CheckpointStore on the local filesystem.
// Each checkpoint is one JSON file named by its id; writes go through a
// temp file plus rename so readers never observe a partial checkpoint.
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at baseDir. An empty baseDir defaults
// to ".lattice/checkpoints".
func NewStore(baseDir string) *Store {
	if baseDir == "" {
		baseDir = filepath.Join(".lattice", "checkpoints")
	}
	return &Store{baseDir: baseDir}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

// Save persists a checkpoint. An existing id is rejected: checkpoints are
// immutable, superseded rather than overwritten.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.ID == "" {
		return fmt.Errorf("checkpoint missing id")
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure checkpoint directory: %w", err)
	}

	target := s.path(cp.ID)
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("checkpoint %s already exists", cp.ID)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.baseDir, cp.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish checkpoint: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by id.
func (s *Store) Load(ctx context.Context, id string) (*domain.Checkpoint, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// Delete removes a checkpoint file. A missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns all checkpoints for a run, ordered by creation time ascending.
func (s *Store) List(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var out []*domain.Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		cp, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if cp.RunID != runID {
			continue
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Ledger implements ports.EvidenceLedger as an NDJSON append-only file.
// One JSON object per line; appends are serialized so concurrent branch
// writes never interleave within a line.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// NewLedger creates a ledger writing to path. An empty path defaults to
// ".lattice/ledger.ndjson".
func NewLedger(path string) *Ledger {
	if path == "" {
		path = filepath.Join(".lattice", "ledger.ndjson")
	}
	return &Ledger{path: path}
}

// Append writes one entry as a single NDJSON line.
func (l *Ledger) Append(ctx context.Context, entry ports.LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to ensure ledger directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Read returns every entry in append order. Used by tooling and tests,
// never by the engine's hot path.
func (l *Ledger) Read() ([]ports.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	var out []ports.LedgerEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry ports.LedgerEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("corrupt ledger line: %w", err)
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return out, nil
}
