package ports

import (
	"context"
	"time"
)

// LedgerEntry is one append-only record written to the evidence ledger.
type LedgerEntry struct {
	Kind          string         `json:"kind"`
	CorrelationID string         `json:"correlation_id"`
	SessionID     string         `json:"session_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// EvidenceLedger is the external append-only sink for execution and
// verification events. Appends must be individually atomic; no ordering
// guarantee is required across concurrent branches beyond all appends for
// a run eventually being observable.
//
// Append failures are logged by callers but never abort a run.
type EvidenceLedger interface {
	Append(ctx context.Context, entry LedgerEntry) error
}
