package search_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docmgr/docstore/documents"
	"github.com/docmgr/docstore/memory"
	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/search"
	"github.com/docmgr/docstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *memory.Store
	docs   *documents.Service
	engine *search.Engine
}

// newFixture returns services whose clock advances one minute per reading,
// so every write gets a later inserted date than the one before.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	var ticks atomic.Int64

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Minute)
	}

	s := memory.New()

	docs, err := documents.New(s, documents.WithClock(clock))
	require.NoError(t, err)

	engine, err := search.New(s)
	require.NoError(t, err)

	return &fixture{store: s, docs: docs, engine: engine}
}

func (f *fixture) save(t *testing.T, site, id string, tags ...*model.Tag) {
	t.Helper()

	require.NoError(t, f.docs.SaveDocument(context.Background(), site, &model.Document{ID: id, Path: id + ".pdf"}, tags))
}

func ids(results *search.Results) []string {
	out := make([]string, 0, len(results.Documents))
	for _, r := range results.Documents {
		out = append(out, r.Document.ID)
	}

	return out
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := search.New(nil)
	require.Error(t, err)

	_, err = search.New(memory.New(), search.WithLogger(nil))
	require.Error(t, err)
}

func TestSearch_CategoryScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	f.save(t, "", "A", &model.Tag{Key: "category", Value: "invoice"})
	f.save(t, "", "B", &model.Tag{Key: "category", Value: "invoice"})
	f.save(t, "", "C", &model.Tag{Key: "category", Value: "receipt-old"})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		results, err := f.engine.Search(ctx, "", search.Query{Tag: search.Criteria{Key: "category", BeginsWith: "inv"}}, "", 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "B"}, ids(results))
		assert.Empty(t, results.Cursor)

		for _, r := range results.Documents {
			assert.Equal(t, search.MatchedTag{Key: "category", Value: "invoice"}, r.MatchedTag)
		}
	})

	t.Run("exact", func(t *testing.T) {
		t.Parallel()

		results, err := f.engine.Search(ctx, "", search.Query{Tag: search.Criteria{Key: "category", Eq: "invoice"}}, "", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "A"}, ids(results), "most recently tagged first")
		assert.Equal(t, "B.pdf", results.Documents[0].Document.Path)
	})

	t.Run("exact without matches", func(t *testing.T) {
		t.Parallel()

		results, err := f.engine.Search(ctx, "", search.Query{Tag: search.Criteria{Key: "category", Eq: "receipt"}}, "", 0)
		require.NoError(t, err)
		assert.Empty(t, results.Documents)
		assert.NotNil(t, results.Documents)
	})

	t.Run("key only", func(t *testing.T) {
		t.Parallel()

		results, err := f.engine.Search(ctx, "", search.Query{Tag: search.Criteria{Key: "category"}}, "", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"C", "B", "A"}, ids(results), "descending by value, then date")
	})

	t.Run("other site", func(t *testing.T) {
		t.Parallel()

		results, err := f.engine.Search(ctx, "tenant1", search.Query{Tag: search.Criteria{Key: "category", Eq: "invoice"}}, "", 0)
		require.NoError(t, err)
		assert.Empty(t, results.Documents)
	})
}

func TestSearch_DocumentIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	f.save(t, "", "A", &model.Tag{Key: "category", Value: "invoice"})
	f.save(t, "", "B", &model.Tag{Key: "category", Values: []string{"invoice", "internal", "receipt"}})
	f.save(t, "", "C", &model.Tag{Key: "owner", Value: "joe"})

	t.Run("two of three carry the tag", func(t *testing.T) {
		t.Parallel()

		q := search.Query{Tag: search.Criteria{Key: "category"}, DocumentIDs: []string{"A", "B", "C"}}

		results, err := f.engine.Search(ctx, "", q, "", 1)
		require.NoError(t, err)
		require.Equal(t, []string{"A", "B"}, ids(results))
		assert.Equal(t, search.MatchedTag{Key: "category", Value: "invoice"}, results.Documents[0].MatchedTag)
		assert.Equal(t, search.MatchedTag{Key: "category", Values: []string{"invoice", "internal", "receipt"}}, results.Documents[1].MatchedTag)
		assert.Empty(t, results.Cursor)
	})

	t.Run("exact", func(t *testing.T) {
		t.Parallel()

		q := search.Query{Tag: search.Criteria{Key: "category", Eq: "receipt"}, DocumentIDs: []string{"A", "B", "C"}}

		results, err := f.engine.Search(ctx, "", q, "", 0)
		require.NoError(t, err)
		require.Equal(t, []string{"B"}, ids(results))
		assert.Equal(t, search.MatchedTag{Key: "category", Value: "receipt"}, results.Documents[0].MatchedTag)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		q := search.Query{Tag: search.Criteria{Key: "category", BeginsWith: "in"}, DocumentIDs: []string{"B", "A", "B"}}

		results, err := f.engine.Search(ctx, "", q, "", 0)
		require.NoError(t, err)
		require.Equal(t, []string{"B", "A"}, ids(results))
		assert.Equal(t, []string{"invoice", "internal"}, results.Documents[0].MatchedTag.Values)
	})

	t.Run("unknown documents", func(t *testing.T) {
		t.Parallel()

		q := search.Query{Tag: search.Criteria{Key: "category"}, DocumentIDs: []string{"X", "Y"}}

		results, err := f.engine.Search(ctx, "", q, "", 0)
		require.NoError(t, err)
		assert.Empty(t, results.Documents)
	})
}

func TestSearch_AggregatesValuesOfOneDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	f.save(t, "", "A", &model.Tag{Key: "people", Values: []string{"alice", "alan", "bob"}})
	f.save(t, "", "B", &model.Tag{Key: "people", Value: "alex"})

	results, err := f.engine.Search(ctx, "", search.Query{Tag: search.Criteria{Key: "people", BeginsWith: "al"}}, "", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, ids(results))

	assert.Equal(t, search.MatchedTag{Key: "people", Values: []string{"alice", "alan"}}, results.Documents[0].MatchedTag)
	assert.Equal(t, search.MatchedTag{Key: "people", Value: "alex"}, results.Documents[1].MatchedTag)
}

func TestSearch_Pages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	for n := range 5 {
		f.save(t, "", fmt.Sprintf("doc%d", n), &model.Tag{Key: "category", Value: "invoice"})
	}

	q := search.Query{Tag: search.Criteria{Key: "category", Eq: "invoice"}}

	var (
		got    []string
		cursor string
		pages  int
	)

	for {
		results, err := f.engine.Search(ctx, "", q, cursor, 2)
		require.NoError(t, err)

		got = append(got, ids(results)...)
		pages++

		if results.Cursor == "" {
			break
		}

		cursor = results.Cursor
	}

	assert.Equal(t, []string{"doc4", "doc3", "doc2", "doc1", "doc0"}, got)
	assert.Equal(t, 3, pages)
}

func TestSearch_SkipsMissingDocuments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	f.save(t, "", "A", &model.Tag{Key: "category", Value: "invoice"})
	require.NoError(t, f.docs.AddTags(ctx, "", "orphan", []*model.Tag{{Key: "category", Value: "invoice"}}))

	results, err := f.engine.Search(ctx, "", search.Query{Tag: search.Criteria{Key: "category", Eq: "invoice"}}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(results))
}

func TestSearch_InvalidQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name   string
		query  search.Query
		cursor string
	}{
		{name: "empty key", query: search.Query{}},
		{name: "eq and prefix", query: search.Query{Tag: search.Criteria{Key: "k", Eq: "a", BeginsWith: "b"}}},
		{name: "delimiter in key", query: search.Query{Tag: search.Criteria{Key: "a#b"}}},
		{name: "delimiter in value", query: search.Query{Tag: search.Criteria{Key: "k", Eq: "a#b"}}},
		{name: "empty document id", query: search.Query{Tag: search.Criteria{Key: "k"}, DocumentIDs: []string{""}}},
		{name: "bad cursor", query: search.Query{Tag: search.Criteria{Key: "k"}}, cursor: "%%%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := f.engine.Search(ctx, "", tt.query, tt.cursor, 0)
			require.ErrorIs(t, err, search.ErrInvalidQuery)
		})
	}
}

type failingStore struct {
	*memory.Store
}

func (failingStore) Query(context.Context, store.Query) (*store.Page, error) {
	return nil, store.ErrTransient
}

func TestSearch_StoreError(t *testing.T) {
	t.Parallel()

	engine, err := search.New(failingStore{Store: memory.New()})
	require.NoError(t, err)

	_, err = engine.Search(context.Background(), "", search.Query{Tag: search.Criteria{Key: "k"}}, "", 0)
	require.ErrorIs(t, err, store.ErrTransient)
}
