// Package store provides SQLite-backed durable storage for replicated
// documents.
//
// Two tables back every document:
//   - updates: the Update Log, an append-only ordered log of opaque deltas
//   - snapshots: one full-state record per document plus its watermark
//
// # Invariants
//
//   - seq is assigned by SQLite (AUTOINCREMENT), strictly increasing and never
//     reused. Append is a single INSERT, so sequence assignment is atomic with
//     respect to concurrent appenders.
//   - Retained log entries always have seq > watermark. CommitCompaction
//     replaces the snapshot and deletes the folded range in one transaction.
//   - The watermark never moves backwards.
//   - All log reads are ORDER BY seq ASC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Every failing statement is reported as a failure.StorageUnavailable error.
package store
