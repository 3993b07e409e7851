// Package schema validates primitive inputs and outputs against
// JSON-Schema-equivalent structural descriptions (type, required fields,
// enums, ranges, nested objects and arrays).
//
// Validation is delegated to kin-openapi's schema engine so the semantics
// match what external primitive implementations already agree on. The
// package wraps its results in structured ValidationError/AggregateError
// values rather than bare strings.
package schema
