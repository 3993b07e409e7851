package ports

import (
	"context"

	"github.com/aretw0/lattice/pkg/domain"
)

// CheckpointStore persists checkpoints. Implementations must treat
// checkpoints as immutable blobs: Save never overwrites an existing id,
// and stored bytes are returned exactly as written so checksum
// verification stays meaningful across backends.
type CheckpointStore interface {
	// Save persists a checkpoint under its id.
	Save(ctx context.Context, cp *domain.Checkpoint) error

	// Load retrieves a checkpoint by id.
	// Returns domain.ErrCheckpointNotFound if the id does not exist.
	Load(ctx context.Context, id string) (*domain.Checkpoint, error)

	// Delete removes a checkpoint by id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all checkpoints for a run, ordered by creation time ascending.
	List(ctx context.Context, runID string) ([]*domain.Checkpoint, error)
}
