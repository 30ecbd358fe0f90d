// Package store provides durable storage for chat conversations.
//
// # Architecture
//
// A single Store interface covers everything the rest of the application
// needs: keyed reads and writes, group lookups, a recency listing, and a
// predicate scan. Three implementations exist:
//
//   - SQLiteStore: database/sql over modernc.org/sqlite (default, pure Go)
//     or github.com/mattn/go-sqlite3 (cgo)
//   - BoltStore: go.etcd.io/bbolt with hand-maintained index buckets
//   - MockStore: in-memory map for tests, with injectable write failures
//
// Open picks an implementation from a driver name.
//
// # Data Model
//
// A Conversation record is indexed by ID (primary key), GroupID, CreatedAt,
// Title and Model. The Messages field is opaque text; the conversation
// package owns its encoding.
//
// # Errors
//
// Get returns ErrNotFound for a missing id. Every engine failure is wrapped
// in a *StorageError, which matches ErrStorage under errors.Is. Delete of a
// missing id is not an error.
//
// # Schema Migrations
//
// SQLiteStore creates its schema on open and applies idempotent column
// migrations (see runMigrations) so older database files keep working.
package store
