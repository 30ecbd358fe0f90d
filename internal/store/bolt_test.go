// ABOUTME: Tests for the bbolt store implementation
// ABOUTME: Covers reopen persistence and index bucket maintenance on updates and deletes

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "chat.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func countKeys(t *testing.T, s *BoltStore, bucket []byte) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucket).Stats().KeyN
		return nil
	}))
	return n
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.bolt")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(t.Context(), sampleConversation(5, 1, 50)))
	require.NoError(t, s.Close())

	reopened, err := NewBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(t.Context(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.GroupID)
	assert.Equal(t, "be brief", got.SystemPrompt)
}

func TestBoltStore_IndexesFollowUpdates(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := t.Context()

	require.NoError(t, s.Put(ctx, sampleConversation(1, 1, 100)))
	require.NoError(t, s.Put(ctx, sampleConversation(2, 1, 200)))

	moved := sampleConversation(1, 2, 300)
	require.NoError(t, s.Put(ctx, moved))

	assert.Equal(t, 2, countKeys(t, s, bucketConversations))
	assert.Equal(t, 2, countKeys(t, s, bucketByGroup))
	assert.Equal(t, 2, countKeys(t, s, bucketByCreated))

	recent, err := s.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(1), recent[0].ID)

	require.NoError(t, s.Delete(ctx, 2))
	assert.Equal(t, 1, countKeys(t, s, bucketConversations))
	assert.Equal(t, 1, countKeys(t, s, bucketByGroup))
	assert.Equal(t, 1, countKeys(t, s, bucketByCreated))
}

func TestBoltStore_GroupPrefixDoesNotBleed(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := t.Context()

	require.NoError(t, s.Put(ctx, sampleConversation(1, 1, 10)))
	require.NoError(t, s.Put(ctx, sampleConversation(2, 256, 20)))

	got, err := s.ListByGroup(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}

func hasKey(t *testing.T, s *BoltStore, bucket, key []byte) bool {
	t.Helper()
	var found bool
	require.NoError(t, s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucket).Get(key) != nil
		return nil
	}))
	return found
}

func TestBoltStore_TitleAndModelIndexes(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := t.Context()

	require.NoError(t, s.Put(ctx, sampleConversation(1, 0, 10)))
	require.NoError(t, s.Put(ctx, sampleConversation(2, 0, 20)))
	assert.True(t, hasKey(t, s, bucketByTitle, stringIndexKey("conversation 1", 1)))
	assert.True(t, hasKey(t, s, bucketByModel, stringIndexKey("echo-1", 2)))

	renamed := sampleConversation(1, 0, 10)
	renamed.Title = "renamed"
	renamed.Model = "echo-2"
	require.NoError(t, s.Put(ctx, renamed))

	assert.Equal(t, 2, countKeys(t, s, bucketByTitle))
	assert.Equal(t, 2, countKeys(t, s, bucketByModel))
	assert.False(t, hasKey(t, s, bucketByTitle, stringIndexKey("conversation 1", 1)))
	assert.True(t, hasKey(t, s, bucketByTitle, stringIndexKey("renamed", 1)))
	assert.False(t, hasKey(t, s, bucketByModel, stringIndexKey("echo-1", 1)))
	assert.True(t, hasKey(t, s, bucketByModel, stringIndexKey("echo-2", 1)))

	require.NoError(t, s.Delete(ctx, 2))
	assert.Equal(t, 1, countKeys(t, s, bucketByTitle))
	assert.Equal(t, 1, countKeys(t, s, bucketByModel))

	require.NoError(t, s.Clear(ctx))
	for _, b := range allBuckets {
		assert.Equal(t, 0, countKeys(t, s, b), "bucket %s", b)
	}
}
