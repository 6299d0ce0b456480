// Package protocol defines the Draft, Execution, and Settlement models that
// flow through the three-layer tool pipeline.
//
// Invariants:
// - A Draft is immutable except for its status, which only moves forward.
// - One (tenant, draft, tool) triple succeeds at most once.
// - Every record carries a tenant ID; nothing crosses tenant boundaries.
package protocol
