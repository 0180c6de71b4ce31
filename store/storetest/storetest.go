// Package storetest holds behavioural tests shared by every [store.Store]
// implementation. Backends call the exported functions from their own test
// files, typically from an integration test with a live database.
//
// Every test writes to partitions with a random prefix, so the suite can run
// against a shared table without cleaning it first.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/docmgr/docstore/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetPutDelete verifies single item reads and writes.
func TestGetPutDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	pk := partition("documents")
	key := store.Key{PK: pk, SK: "document"}

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	item := key.Item()
	item.SetString("path", "a.pdf")
	item.SetInt("contentLength", 42)
	require.NoError(t, s.Put(ctx, item))

	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a.pdf", got.String("path"))
	assert.Equal(t, int64(42), got.Int("contentLength"))

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key), "deleting an absent item is a no-op")

	exists, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.ErrorIs(t, s.Put(ctx, store.Item{}), store.ErrInvalidKey)
}

// TestQuery verifies sort key conditions, ordering and cursor pagination on
// the table and on both secondary indexes.
func TestQuery(t *testing.T, s store.Store) {
	ctx := context.Background()
	pk := partition("documents")

	items := make([]store.Item, 0, 30)
	for n := range 30 {
		item := store.Key{PK: pk, SK: fmt.Sprintf("tag#%02d", n)}.Item()
		item.SetString(store.GSI1PartitionKey, pk+"#gsi1")
		item.SetString(store.GSI1SortKey, fmt.Sprintf("%02d", 29-n))
		item.SetString(store.GSI2PartitionKey, pk+"#gsi2")
		item.SetString(store.GSI2SortKey, fmt.Sprintf("%02d", n))
		items = append(items, item)
	}

	items = append(items, store.Key{PK: pk, SK: "document"}.Item())
	require.NoError(t, s.PutBatch(ctx, items))

	page, err := s.Query(ctx, store.BeginsWith(pk, "tag#"))
	require.NoError(t, err)
	assert.Len(t, page.Items, 30)
	assert.Nil(t, page.LastEvaluatedKey)
	assert.Equal(t, "tag#00", page.Items[0].String(store.SortKey))

	page, err = s.Query(ctx, store.Between(pk, "tag#10", "tag#12"))
	require.NoError(t, err)
	assert.Equal(t, []string{"tag#10", "tag#11", "tag#12"}, sortKeys(page.Items))

	page, err = s.Query(ctx, store.Query{PK: pk, SortOp: store.SortEqual, SK: "document"})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	// Descending pages of 7 over GSI1 must visit every item exactly once.
	q := store.Query{Index: store.IndexGSI1, PK: pk + "#gsi1", Limit: 7, Descending: true}
	var seen []string

	for {
		page, err := s.Query(ctx, q)
		require.NoError(t, err)
		seen = append(seen, sortKeys(page.Items)...)

		cursor := page.Cursor()
		if cursor == "" {
			break
		}

		q.StartKey, err = store.DecodeCursor(cursor)
		require.NoError(t, err)
	}

	require.Len(t, seen, 30)
	assert.Equal(t, "tag#00", seen[0])
	assert.Equal(t, "tag#29", seen[29])

	page, err = s.Query(ctx, store.Query{Index: store.IndexGSI2, PK: pk + "#gsi2", SortOp: store.SortBeginsWith, SK: "2"})
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)

	_, err = s.Query(ctx, store.Query{})
	require.Error(t, err)

	require.NoError(t, s.DeleteBeginsWith(ctx, pk, ""))
}

// TestConditionalWrites verifies PutIf and DeleteIf, including a race where
// exactly one of several concurrent creators must win.
func TestConditionalWrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := store.Key{PK: partition("documents"), SK: "lock#actions"}

	item := key.Item()
	item.SetString("owner", "a")
	item.SetInt("expiresAt", 100)

	require.NoError(t, s.PutIf(ctx, item, store.AttributeNotExists(store.PartitionKey)))
	require.ErrorIs(t, s.PutIf(ctx, item, store.AttributeNotExists(store.PartitionKey)), store.ErrPreconditionFailed)

	takeover := key.Item()
	takeover.SetString("owner", "b")
	takeover.SetInt("expiresAt", 300)

	expired := store.Or(store.AttributeNotExists(store.PartitionKey), store.LessThan("expiresAt", 50))
	require.ErrorIs(t, s.PutIf(ctx, takeover, expired), store.ErrPreconditionFailed)

	expired = store.Or(store.AttributeNotExists(store.PartitionKey), store.LessThan("expiresAt", 200))
	require.NoError(t, s.PutIf(ctx, takeover, expired))

	require.ErrorIs(t, s.DeleteIf(ctx, key, store.Equal("owner", "a")), store.ErrPreconditionFailed)
	require.NoError(t, s.DeleteIf(ctx, key, store.And(store.Equal("owner", "b"), store.AttributeExists("expiresAt"))))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for n := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			contender := key.Item()
			contender.SetString("owner", fmt.Sprint(n))

			err := s.PutIf(ctx, contender, store.AttributeNotExists(store.PartitionKey))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, store.ErrPreconditionFailed)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, wins)

	require.NoError(t, s.Delete(ctx, key))
}

// TestIncrement verifies the atomic counter, including creation on first use
// and concurrent increments.
func TestIncrement(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := store.Key{PK: partition("documents"), SK: "sequence#actions"}

	n, err := s.Increment(ctx, key, "value", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := s.Increment(ctx, key, "value", 2)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	n, err = s.Increment(ctx, key, "value", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(21), n)

	require.NoError(t, s.Delete(ctx, key))
}

// TestBatch verifies BatchGet, PutBatch and DeleteBatch across several batch
// write chunks.
func TestBatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	pk := partition("documents")

	items := make([]store.Item, 0, 60)
	keys := make([]store.Key, 0, 60)

	for n := range 60 {
		key := store.Key{PK: pk, SK: fmt.Sprintf("action#%06d#OCR", n)}
		items = append(items, key.Item())
		keys = append(keys, key)
	}

	require.NoError(t, s.PutBatch(ctx, items))

	got, err := s.BatchGet(ctx, append(keys[:10:10], store.Key{PK: pk, SK: "missing"}))
	require.NoError(t, err)
	assert.Len(t, got, 10)

	tooMany := make([]store.Key, store.MaxBatchGetKeys+1)
	for n := range tooMany {
		tooMany[n] = store.Key{PK: pk, SK: fmt.Sprint(n)}
	}

	_, err = s.BatchGet(ctx, tooMany)
	require.Error(t, err)

	require.NoError(t, s.DeleteBatch(ctx, keys))

	page, err := s.Query(ctx, store.Query{PK: pk})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

// TestDeleteBeginsWith verifies that prefix deletes span several pages and
// leave other sort keys in place.
func TestDeleteBeginsWith(t *testing.T, s store.Store) {
	ctx := context.Background()
	pk := partition("documents")

	items := []store.Item{store.Key{PK: pk, SK: "document"}.Item()}
	for n := range 150 {
		items = append(items, store.Key{PK: pk, SK: fmt.Sprintf("tag#k%03d", n)}.Item())
	}

	require.NoError(t, s.PutBatch(ctx, items))
	require.NoError(t, s.DeleteBeginsWith(ctx, pk, "tag#"))

	page, err := s.Query(ctx, store.Query{PK: pk})
	require.NoError(t, err)
	assert.Equal(t, []string{"document"}, sortKeys(page.Items))

	require.NoError(t, s.Delete(ctx, store.Key{PK: pk, SK: "document"}))
}

func partition(prefix string) string {
	return prefix + "#" + uuid.NewString()
}

func sortKeys(items []store.Item) []string {
	sks := make([]string, 0, len(items))
	for _, i := range items {
		sks = append(sks, i.String(store.SortKey))
	}

	return sks
}
