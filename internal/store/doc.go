// Package store persists per-stream dispatch metadata.
//
// Two tables back the store:
//   - dispatch_metadata: one row per stream, the last committed dispatch
//   - dispatch_history: append-only audit of every committed dispatch
//
// A row is written only after the file it describes has been uploaded and
// verified, so the stored sequence number is always the one last delivered.
//
// # Database Configuration
//
// SQLite (the default) is opened with:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// PostgreSQL is reached through lib/pq. Queries are written once with '?'
// placeholders and rebound to $n for that dialect.
package store
