// ABOUTME: BoltDB implementation of the Store interface using go.etcd.io/bbolt
// ABOUTME: Keeps records in one bucket and maintains group/created_at/title/model index buckets in the same transaction

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketByGroup       = []byte("idx_group")
	bucketByCreated     = []byte("idx_created")
	bucketByTitle       = []byte("idx_title")
	bucketByModel       = []byte("idx_model")

	allBuckets = [][]byte{bucketConversations, bucketByGroup, bucketByCreated, bucketByTitle, bucketByModel}
)

// boltRecord is the on-disk JSON shape of a Conversation.
type boltRecord struct {
	ID           int64  `json:"id"`
	GroupID      int64  `json:"gid"`
	CreatedAt    int64  `json:"timestamp"`
	Title        string `json:"title"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
	Messages     string `json:"messages"`
}

// BoltStore implements Store on a single bbolt file. Secondary indexes are
// buckets whose keys are (indexed value, id) pairs in big-endian order, so
// range scans walk them without touching the record bucket.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore opens (or creates) the bbolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	logger := slog.Default().With("component", "store", "driver", DriverBolt)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Bolt store initialized", "path", path)
	return &BoltStore{db: db, logger: logger}, nil
}

// Close closes the database file
func (s *BoltStore) Close() error {
	s.logger.Info("closing Bolt store")
	return s.db.Close()
}

func idKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func indexKey(value, id int64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(value))
	binary.BigEndian.PutUint64(k[8:], uint64(id))
	return k
}

// stringIndexKey is value, a zero byte, then the big-endian id.
func stringIndexKey(value string, id int64) []byte {
	k := make([]byte, 0, len(value)+9)
	k = append(k, value...)
	k = append(k, 0)
	return append(k, idKey(id)...)
}

func idFromIndexKey(k []byte) []byte {
	return k[8:16]
}

type indexEntry struct {
	bucket []byte
	key    []byte
}

func indexEntries(c *Conversation) []indexEntry {
	return []indexEntry{
		{bucketByGroup, indexKey(c.GroupID, c.ID)},
		{bucketByCreated, indexKey(c.CreatedAt, c.ID)},
		{bucketByTitle, stringIndexKey(c.Title, c.ID)},
		{bucketByModel, stringIndexKey(c.Model, c.ID)},
	}
}

func putIndexes(tx *bolt.Tx, c *Conversation) error {
	for _, e := range indexEntries(c) {
		if err := tx.Bucket(e.bucket).Put(e.key, []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func deleteIndexes(tx *bolt.Tx, c *Conversation) error {
	for _, e := range indexEntries(c) {
		if err := tx.Bucket(e.bucket).Delete(e.key); err != nil {
			return err
		}
	}
	return nil
}

func decodeRecord(v []byte) (*Conversation, error) {
	var rec boltRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return &Conversation{
		ID:           rec.ID,
		GroupID:      rec.GroupID,
		CreatedAt:    rec.CreatedAt,
		Title:        rec.Title,
		Model:        rec.Model,
		SystemPrompt: rec.SystemPrompt,
		Messages:     rec.Messages,
	}, nil
}

func encodeRecord(c *Conversation) ([]byte, error) {
	return json.Marshal(boltRecord{
		ID:           c.ID,
		GroupID:      c.GroupID,
		CreatedAt:    c.CreatedAt,
		Title:        c.Title,
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		Messages:     c.Messages,
	})
}

// Get retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *BoltStore) Get(_ context.Context, id int64) (*Conversation, error) {
	var c *Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConversations).Get(idKey(id))
		if v == nil {
			return ErrNotFound
		}
		var err error
		c, err = decodeRecord(v)
		return err
	})
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("reading conversation", err)
	}
	return c, nil
}

// Put writes the record and its index entries atomically, replacing any
// previous version and its stale index keys.
func (s *BoltStore) Put(_ context.Context, c *Conversation) error {
	enc, err := encodeRecord(c)
	if err != nil {
		return storageErr("encoding conversation", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketConversations)

		if prev := records.Get(idKey(c.ID)); prev != nil {
			old, err := decodeRecord(prev)
			if err != nil {
				return err
			}
			if err := deleteIndexes(tx, old); err != nil {
				return err
			}
		}

		if err := records.Put(idKey(c.ID), enc); err != nil {
			return err
		}
		return putIndexes(tx, c)
	})
	if err != nil {
		return storageErr("writing conversation", err)
	}

	s.logger.Debug("put conversation", "id", c.ID, "group_id", c.GroupID, "size", len(c.Messages))
	return nil
}

// Delete removes a conversation and its index entries. A missing id is logged and ignored.
func (s *BoltStore) Delete(_ context.Context, id int64) error {
	var found bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketConversations)
		v := records.Get(idKey(id))
		if v == nil {
			return nil
		}
		found = true
		old, err := decodeRecord(v)
		if err != nil {
			return err
		}
		if err := deleteIndexes(tx, old); err != nil {
			return err
		}
		return records.Delete(idKey(id))
	})
	if err != nil {
		return storageErr("deleting conversation", err)
	}
	if !found {
		s.logger.Info("conversation not found, nothing deleted", "id", id)
		return nil
	}
	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// Clear drops and recreates every bucket
func (s *BoltStore) Clear(_ context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("clearing conversations", err)
	}
	s.logger.Debug("cleared conversations")
	return nil
}

// ListByGroup walks the group index prefix, so results come back in id order
func (s *BoltStore) ListByGroup(_ context.Context, groupID int64) ([]*Conversation, error) {
	conversations := make([]*Conversation, 0)
	prefix := idKey(groupID)

	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketConversations)
		c := tx.Bucket(bucketByGroup).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			v := records.Get(idFromIndexKey(k))
			if v == nil {
				continue
			}
			conv, err := decodeRecord(v)
			if err != nil {
				return err
			}
			conversations = append(conversations, conv)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("querying conversations by group", err)
	}
	return conversations, nil
}

// CountByGroup counts index keys without decoding records
func (s *BoltStore) CountByGroup(_ context.Context, groupID int64) (int, error) {
	var count int
	prefix := idKey(groupID)

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByGroup).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("counting conversations by group", err)
	}
	return count, nil
}

// ListRecent walks the created_at index backwards.
// If limit is 0 or negative, a default limit of 200 is used.
func (s *BoltStore) ListRecent(_ context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	conversations := make([]*Conversation, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketConversations)
		c := tx.Bucket(bucketByCreated).Cursor()
		for k, _ := c.Last(); k != nil && len(conversations) < limit; k, _ = c.Prev() {
			v := records.Get(idFromIndexKey(k))
			if v == nil {
				continue
			}
			conv, err := decodeRecord(v)
			if err != nil {
				return err
			}
			conversations = append(conversations, conv)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("querying recent conversations", err)
	}
	return conversations, nil
}

// Filter decodes every record and applies pred. Linear in the number of records.
func (s *BoltStore) Filter(_ context.Context, pred Predicate) ([]*Conversation, error) {
	matched := make([]*Conversation, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			conv, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if pred(conv) {
				matched = append(matched, conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("scanning conversations", err)
	}
	return matched, nil
}

// Ensure BoltStore implements Store interface
var _ Store = (*BoltStore)(nil)
