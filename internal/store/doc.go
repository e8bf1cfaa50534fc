// Package store provides SQLite-backed durable storage for the emission log.
//
// The store records:
//   - Emissions: every emitted message with its rendered content and impact
//   - Responses: the chosen key for a user-action emission (one per emission)
//   - Drops: candidates dropped by evaluation errors, for the trace
//
// The engine itself performs no I/O. Drivers write pass results here and, on
// startup, restore the logical clock (GetLastSeq) and the response ledger
// (ReadLedger) from the log.
//
// All queries order by seq ASC, id ASC COLLATE BINARY so reads are identical
// across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
