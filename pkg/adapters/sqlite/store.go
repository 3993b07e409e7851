// Package sqlite provides a SQLite-backed checkpoint store over
// database/sql with the pure-Go modernc.org driver, so deployments get a
// durable single-file backend without cgo.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	_ "modernc.org/sqlite"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	schema_version INTEGER NOT NULL,
	state          BLOB NOT NULL,
	checksum       TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	step_id        TEXT NOT NULL DEFAULT '',
	health         REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints (run_id, created_at);
`

// Store implements ports.CheckpointStore on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// The driver serializes writes; a single connection avoids table locks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate checkpoint schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists a checkpoint. The primary key rejects an existing id.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.ID == "" {
		return fmt.Errorf("checkpoint missing id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, created_at, schema_version, state, checksum, reason, step_id, health)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.RunID, cp.CreatedAt.UnixNano(), cp.SchemaVersion,
		cp.State, cp.Checksum, cp.Meta.Reason, cp.Meta.StepID, cp.Meta.Health,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// Load retrieves a checkpoint by id.
func (s *Store) Load(ctx context.Context, id string) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, created_at, schema_version, state, checksum, reason, step_id, health
		FROM checkpoints WHERE id = ?`, id)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// Delete removes a checkpoint. A missing id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", id, err)
	}
	return nil
}

// List returns all checkpoints for a run, ordered by creation time ascending.
func (s *Store) List(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, created_at, schema_version, state, checksum, reason, step_id, health
		FROM checkpoints WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var createdAt int64
	err := row.Scan(
		&cp.ID, &cp.RunID, &createdAt, &cp.SchemaVersion,
		&cp.State, &cp.Checksum, &cp.Meta.Reason, &cp.Meta.StepID, &cp.Meta.Health,
	)
	if err != nil {
		return nil, err
	}
	cp.CreatedAt = time.Unix(0, createdAt).UTC()
	return &cp, nil
}
