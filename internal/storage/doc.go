// Package storage persists the dispatch audit trail and the duplicate
// suppression keys that let a restarted bot avoid re-posting a poll.
//
// Drivers:
//   - "file":   JSON Lines audit + dedup snapshot/journal, no dependencies
//   - "sqlite": a single SQLite file (modernc.org/sqlite, pure Go)
package storage
