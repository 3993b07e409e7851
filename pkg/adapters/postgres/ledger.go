// Package postgres provides an evidence-ledger sink on PostgreSQL.
// Entries are append-only rows; nothing in the engine ever updates or
// deletes them.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aretw0/lattice/pkg/ports"
	_ "github.com/lib/pq"
)

const ledgerDDL = `
CREATE TABLE IF NOT EXISTS evidence_ledger (
	seq            BIGSERIAL PRIMARY KEY,
	kind           TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	payload        JSONB NOT NULL DEFAULT '{}',
	recorded_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_correlation ON evidence_ledger (correlation_id, seq);
`

// Ledger implements ports.EvidenceLedger on PostgreSQL.
type Ledger struct {
	db *sql.DB
}

// Open connects with a lib/pq DSN and ensures the ledger table exists.
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if _, err := db.Exec(ledgerDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// NewFromDB wraps an existing handle; the caller owns its lifecycle.
func NewFromDB(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Close releases the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append inserts one entry. Each insert is its own transaction, so
// concurrent branch appends are individually atomic.
func (l *Ledger) Append(ctx context.Context, entry ports.LedgerEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger payload: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO evidence_ledger (kind, correlation_id, session_id, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.Kind, entry.CorrelationID, entry.SessionID, payload, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// EntriesFor returns the entries correlated with one run, in append order.
// Tooling helper, not part of the engine hot path.
func (l *Ledger) EntriesFor(ctx context.Context, correlationID string) ([]ports.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT kind, correlation_id, session_id, payload, recorded_at
		FROM evidence_ledger WHERE correlation_id = $1 ORDER BY seq ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []ports.LedgerEntry
	for rows.Next() {
		var entry ports.LedgerEntry
		var payload []byte
		if err := rows.Scan(&entry.Kind, &entry.CorrelationID, &entry.SessionID, &payload, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if err := json.Unmarshal(payload, &entry.Payload); err != nil {
			return nil, fmt.Errorf("corrupt ledger payload: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return out, nil
}
