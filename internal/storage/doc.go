// Package storage persists survey schedules.
//
// Drivers:
//   - "memory": process-local map, for tests and dry runs
//   - "file":   JSON snapshot plus append-only journal
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
//   - "redis":  one hash per schedule and a set index of recurring ids
//
// Every driver implements SetActive as one atomic update of one record.
package storage
