// Package store provides a SQLite-backed data source for live queries.
//
// The store holds the synchronized tables (fechamento, tributacao and any
// table registered with Track) plus an append-only change_log:
//
//   - Triggers append one change_log row per INSERT, UPDATE and DELETE
//   - Writers and the optional poller publish new change_log rows to
//     subscribers, so a write from another process reaches live queries too
//   - change_log.seq is the change sequence carried in ir.ChangeEvent.Seq
//
// # Deterministic Query Results
//
// Every SELECT goes through querysql, which appends the "id" tiebreaker to
// the ORDER BY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Driver errors are classified into source.Error codes before they leave
// the package.
package store
