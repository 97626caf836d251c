// Package storage persists notification messages and the relay cursor.
//
// Drivers:
//   - memory: process-local, for tests and dry runs
//   - file: JSON Lines journal compacted into a snapshot
//   - sqlite: single-file database (modernc.org/sqlite, no cgo)
package storage
