package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CheckpointSchemaVersion is bumped whenever the serialized ExecutionState
// layout changes incompatibly. Verify rejects checkpoints from other versions.
const CheckpointSchemaVersion = 1

// CheckpointMeta describes why and where a checkpoint was taken.
type CheckpointMeta struct {
	Reason string  `json:"reason"`
	StepID string  `json:"step_id,omitempty"`
	Health float64 `json:"health"`
}

// Checkpoint is a verified, restorable snapshot of execution state.
// Checkpoints are immutable once created: superseded, never mutated.
type Checkpoint struct {
	ID            string         `json:"id"`
	RunID         string         `json:"run_id"`
	CreatedAt     time.Time      `json:"created_at"`
	SchemaVersion int            `json:"schema_version"`
	State         []byte         `json:"state"`
	Checksum      string         `json:"checksum"`
	Meta          CheckpointMeta `json:"meta"`
}

// StateChecksum computes the canonical checksum over a serialized state blob.
func StateChecksum(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
