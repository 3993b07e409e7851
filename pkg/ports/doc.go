// Package ports defines the driven-side interfaces of the Lattice engine:
// checkpoint persistence, the evidence ledger, the external semantic
// verifier and escalation notification.
//
// Adapters live under pkg/adapters. The package also ships a reusable
// contract test (RunCheckpointStoreContract) that every store adapter's
// test suite runs against its own implementation.
package ports
