// Package storage keeps worker counters, daily totals and task history.
//
// Drivers:
//   - "file":   one JSON document, rewritten atomically on each change
//   - "sqlite": a SQLite database (modernc.org/sqlite, pure Go)
//
// An empty driver or "none" disables storage.
package storage
