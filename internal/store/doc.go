// Package store provides SQLite-backed durable storage for room
// transaction logs and checkpoints.
//
// The store is an append-only log per file:
//   - transactions: every accepted transaction with its server sequence
//     number, unique on (file_id, seq) and on the transaction ID
//   - checkpoints: periodic grid snapshots with their content digest
//
// Ordering uses seq, never timestamps; every query over the log includes
// ORDER BY seq ASC so replays are deterministic. created_at is kept for
// operators only.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// A grid is rebuilt by decoding the latest checkpoint and replaying the
// transactions after it (Rebuild).
package store
