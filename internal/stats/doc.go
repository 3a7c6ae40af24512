// Package stats defines the core data types flowing through the tiered
// stats store: the raw per-tick Snapshot and the ConsolidatedEntry that a
// window of snapshots reduces to.
//
// Both types are immutable once produced. JSON field names keep the
// camelCase shape the dashboard consumes.
package stats
