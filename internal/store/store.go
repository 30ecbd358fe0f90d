// ABOUTME: Store interface and data types for coven-chat persistence
// ABOUTME: Defines the Conversation record, storage errors, and the Store interface

package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("not found")

// ErrStorage matches every error raised by the underlying engine (quota, I/O,
// corruption). Use errors.Is(err, ErrStorage) to detect it.
var ErrStorage = errors.New("storage failure")

// StorageError wraps an engine error with the operation that produced it.
// Callers must treat the affected record as being in an unknown state.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports ErrStorage as a match so callers need not know the concrete type.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Conversation is one persisted chat thread. Messages holds the serialized
// message list; only the conversation package encodes or decodes it.
type Conversation struct {
	ID           int64
	GroupID      int64 // 0 means ungrouped
	CreatedAt    int64 // unix milliseconds
	Title        string
	Model        string
	SystemPrompt string
	Messages     string
}

// Clone returns a copy that shares nothing with c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Predicate selects conversations during a Filter scan.
type Predicate func(c *Conversation) bool

// Store defines durable, indexed storage for conversation records.
type Store interface {
	// Get returns ErrNotFound when no record has the id.
	Get(ctx context.Context, id int64) (*Conversation, error)
	// Put inserts or replaces the record with the same id. Last write wins.
	Put(ctx context.Context, c *Conversation) error
	// Delete removes the record. Deleting an absent id is a logged no-op.
	Delete(ctx context.Context, id int64) error
	// Clear removes every record.
	Clear(ctx context.Context) error

	ListByGroup(ctx context.Context, groupID int64) ([]*Conversation, error)
	CountByGroup(ctx context.Context, groupID int64) (int, error)

	// ListRecent returns at most limit records ordered by CreatedAt, newest first.
	ListRecent(ctx context.Context, limit int) ([]*Conversation, error)

	// Filter scans every record and returns those matching pred. This is
	// O(n) over the whole table; fine for a few thousand records.
	Filter(ctx context.Context, pred Predicate) ([]*Conversation, error)

	// Close releases any resources held by the store
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
	DriverBolt    = "bolt"    // go.etcd.io/bbolt
)

// Open returns the Store implementation for driver rooted at path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverSQLite, DriverSQLite3:
		if driver == "" {
			driver = DriverSQLite
		}
		return NewSQLiteStoreWithDriver(driver, path)
	case DriverBolt:
		return NewBoltStore(path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
