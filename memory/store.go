package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/docmgr/docstore/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-process [store.Store]. Items live in an arena keyed by their
// (PK, SK) pair; secondary indexes are computed on every query from the index
// attributes of the stored items.
type Store struct {
	mu    sync.RWMutex
	items map[store.Key]store.Item
}

// New returns an empty Store.
func New() *Store {
	return &Store{items: make(map[store.Key]store.Item)}
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}

func (s *Store) Get(_ context.Context, key store.Key) (store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return maps.Clone(item), nil
}

func (s *Store) Exists(_ context.Context, key store.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[key]

	return ok, nil
}

func (s *Store) BatchGet(_ context.Context, keys []store.Key) ([]store.Item, error) {
	if len(keys) > store.MaxBatchGetKeys {
		return nil, fmt.Errorf("batch get accepts at most %d keys, got %d", store.MaxBatchGetKeys, len(keys))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]store.Item, 0, len(keys))

	for _, key := range keys {
		if item, ok := s.items[key]; ok {
			items = append(items, maps.Clone(item))
		}
	}

	return items, nil
}

func (s *Store) Put(_ context.Context, item store.Item) error {
	key, err := itemKey(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = maps.Clone(item)

	return nil
}

func (s *Store) PutBatch(ctx context.Context, items []store.Item) error {
	for _, item := range items {
		if err := s.Put(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) PutIf(_ context.Context, item store.Item, cond store.Condition) error {
	key, err := itemKey(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(key, cond); err != nil {
		return err
	}

	s.items[key] = maps.Clone(item)

	return nil
}

func (s *Store) Increment(_ context.Context, key store.Key, attr string, delta int64) (int64, error) {
	if key.PK == "" || key.SK == "" {
		return 0, fmt.Errorf("%w: key cannot be empty", store.ErrInvalidKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		item = key.Item()
	} else {
		item = maps.Clone(item)
	}

	value := item.Int(attr) + delta
	item.SetInt(attr, value)
	s.items[key] = item

	return value, nil
}

func (s *Store) Delete(_ context.Context, key store.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)

	return nil
}

func (s *Store) DeleteIf(_ context.Context, key store.Key, cond store.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(key, cond); err != nil {
		return err
	}

	delete(s.items, key)

	return nil
}

func (s *Store) DeleteBatch(ctx context.Context, keys []store.Key) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) DeleteBeginsWith(ctx context.Context, pk, skPrefix string) error {
	q := store.Query{PK: pk}
	if skPrefix != "" {
		q = store.BeginsWith(pk, skPrefix)
	}

	for {
		page, err := s.Query(ctx, q)
		if err != nil {
			return err
		}

		keys := make([]store.Key, 0, len(page.Items))
		for _, item := range page.Items {
			keys = append(keys, item.Key())
		}

		if err := s.DeleteBatch(ctx, keys); err != nil {
			return err
		}

		if page.LastEvaluatedKey == nil {
			return nil
		}

		q.StartKey = page.LastEvaluatedKey
	}
}

func (s *Store) Query(_ context.Context, q store.Query) (*store.Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	pkAttr, skAttr := q.Index.KeyAttributes()

	s.mu.RLock()

	var matches []store.Item

	for _, item := range s.items {
		if item.String(pkAttr) != q.PK || !item.Has(skAttr) {
			continue
		}

		if q.MatchSort(item.String(skAttr)) {
			matches = append(matches, maps.Clone(item))
		}
	}

	s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b store.Item) int {
		c := compareAt(a, b, skAttr)
		if q.Descending {
			return -c
		}

		return c
	})

	if q.StartKey != nil {
		start := slices.IndexFunc(matches, func(item store.Item) bool {
			c := compareAt(item, q.StartKey, skAttr)
			if q.Descending {
				return c < 0
			}

			return c > 0
		})

		if start < 0 {
			matches = nil
		} else {
			matches = matches[start:]
		}
	}

	page := &store.Page{Items: matches}

	if limit := int(q.EffectiveLimit()); len(matches) > limit {
		page.Items = matches[:limit]
		page.LastEvaluatedKey = lastEvaluatedKey(page.Items[limit-1], q.Index)
	}

	return page, nil
}

// check evaluates cond against the current item. Callers hold s.mu.
func (s *Store) check(key store.Key, cond store.Condition) error {
	ok, err := cond.Eval(s.items[key])
	if err != nil {
		return fmt.Errorf("failed to evaluate condition on %s: %w", key, err)
	}

	if !ok {
		return fmt.Errorf("%w: %s", store.ErrPreconditionFailed, key)
	}

	return nil
}

// compareAt orders items by the index sort key, then by table key.
func compareAt(a, b store.Item, skAttr string) int {
	if c := strings.Compare(a.String(skAttr), b.String(skAttr)); c != 0 {
		return c
	}

	if c := strings.Compare(a.String(store.PartitionKey), b.String(store.PartitionKey)); c != 0 {
		return c
	}

	return strings.Compare(a.String(store.SortKey), b.String(store.SortKey))
}

func lastEvaluatedKey(item store.Item, index store.Index) store.Item {
	key := item.Key().Item()

	if index != store.IndexTable {
		pkAttr, skAttr := index.KeyAttributes()
		key[pkAttr] = item[pkAttr]
		key[skAttr] = item[skAttr]
	}

	return key
}

func itemKey(item store.Item) (store.Key, error) {
	key := item.Key()
	if key.PK == "" || key.SK == "" {
		return store.Key{}, fmt.Errorf("%w: item is missing %s or %s", store.ErrInvalidKey, store.PartitionKey, store.SortKey)
	}

	return key, nil
}
