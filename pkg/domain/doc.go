// Package domain holds the core value types of the Lattice engine:
// primitives, conditions, compositions, operators, execution state,
// checkpoints, episodes and the error taxonomy.
//
// These types are pure data. Behavior lives in the packages that consume
// them (pkg/contract, pkg/checkpoint, internal/runtime). Definitions
// (Primitive, Composition) are read-only during execution; ExecutionState
// is owned by exactly one in-flight run.
package domain
