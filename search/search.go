package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/docmgr/docstore/documents"
	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/store"
	"go.uber.org/zap"
)

// ErrInvalidQuery reports a query that cannot be executed.
var ErrInvalidQuery = errors.New("invalid search query")

// Criteria selects documents by one tag. Eq and BeginsWith are mutually
// exclusive; with neither set, every document carrying the key matches.
type Criteria struct {
	Key        string
	Eq         string
	BeginsWith string
}

// Query is a search request.
type Query struct {
	Tag Criteria

	// DocumentIDs restricts the search to these documents. When set, the
	// search is answered from the documents' own tags instead of an index.
	DocumentIDs []string
}

// Validate checks the query.
func (q Query) Validate() error {
	if q.Tag.Key == "" {
		return fmt.Errorf("%w: tag key cannot be empty", ErrInvalidQuery)
	}

	if q.Tag.Eq != "" && q.Tag.BeginsWith != "" {
		return fmt.Errorf("%w: eq and beginsWith cannot be combined", ErrInvalidQuery)
	}

	for _, v := range []string{q.Tag.Key, q.Tag.Eq, q.Tag.BeginsWith} {
		if strings.Contains(v, keys.Delimiter) {
			return fmt.Errorf("%w: %q cannot contain '%s'", ErrInvalidQuery, v, keys.Delimiter)
		}
	}

	for _, id := range q.DocumentIDs {
		if id == "" || strings.Contains(id, keys.Delimiter) {
			return fmt.Errorf("%w: invalid document ID %q", ErrInvalidQuery, id)
		}
	}

	return nil
}

// match returns the values of tag satisfying the criteria, in tag order.
func (c Criteria) match(tag *model.Tag) []string {
	var matched []string

	for _, v := range tag.AllValues() {
		switch {
		case c.Eq != "":
			if v == c.Eq {
				matched = append(matched, v)
			}
		case c.BeginsWith != "":
			if strings.HasPrefix(v, c.BeginsWith) {
				matched = append(matched, v)
			}
		default:
			matched = append(matched, v)
		}
	}

	return matched
}

// MatchedTag is the tag through which a document matched. A document
// matching through more than one value carries them in Values and leaves
// Value empty.
type MatchedTag struct {
	Key    string
	Value  string
	Values []string
}

func newMatchedTag(key string, values []string) MatchedTag {
	if len(values) == 1 {
		return MatchedTag{Key: key, Value: values[0]}
	}

	return MatchedTag{Key: key, Values: values}
}

// Result is one matching document.
type Result struct {
	Document   *model.Document
	MatchedTag MatchedTag
}

// Results is one page of matching documents.
type Results struct {
	Documents []Result

	// Cursor continues the search, or is "" on the last page.
	Cursor string
}

// Engine answers tag searches.
type Engine struct {
	store     store.Store
	documents *documents.Service
	decoder   model.Decoder
	opts      *Options
}

// New returns an Engine reading from s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, errors.New("store cannot be nil")
	}

	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("invalid search options: %w", err)
	}

	docs, err := documents.New(s, documents.WithStrictDates(o.strictDates), documents.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:     s,
		documents: docs,
		decoder:   model.Decoder{StrictDates: o.strictDates},
		opts:      o,
	}, nil
}

// Search returns one page of documents of site matching q. cursor is the
// Cursor of the previous page, or "" for the first page. A limit of zero
// uses [store.DefaultQueryLimit]. Searches by document ids ignore cursor
// and limit.
func (e *Engine) Search(ctx context.Context, site string, q Query, cursor string, limit int32) (*Results, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if len(q.DocumentIDs) > 0 {
		return e.searchDocuments(ctx, site, q)
	}

	start, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	sq := indexQuery(site, q.Tag)
	sq.StartKey = start
	sq.Limit = limit

	page, err := e.store.Query(ctx, sq)
	if err != nil {
		return nil, fmt.Errorf("failed to search tag %s: %w", q.Tag.Key, err)
	}

	var (
		order  []string
		values = make(map[string][]string)
	)

	for _, item := range page.Items {
		id := item.String(model.AttrDocumentID)
		if _, ok := values[id]; !ok {
			order = append(order, id)
		}

		values[id] = append(values[id], item.String(model.AttrTagValue))
	}

	matches := make([]match, 0, len(order))
	for _, id := range order {
		matches = append(matches, match{documentID: id, tag: newMatchedTag(q.Tag.Key, values[id])})
	}

	results, err := e.join(ctx, site, matches)
	if err != nil {
		return nil, err
	}

	results.Cursor = page.Cursor()

	return results, nil
}

// indexQuery picks the index and key condition for criteria.
func indexQuery(site string, c Criteria) store.Query {
	switch {
	case c.Eq != "":
		return store.Query{
			Index:      store.IndexGSI1,
			PK:         keys.TagExactPK(site, c.Key, c.Eq),
			Descending: true,
		}
	case c.BeginsWith != "":
		return store.Query{
			Index:      store.IndexGSI2,
			PK:         keys.TagPrefixPK(site, c.Key),
			SortOp:     store.SortBeginsWith,
			SK:         c.BeginsWith,
			Descending: true,
		}
	default:
		return store.Query{
			Index:      store.IndexGSI2,
			PK:         keys.TagPrefixPK(site, c.Key),
			Descending: true,
		}
	}
}

// searchDocuments reads the queried tag of every listed document and keeps
// the documents whose tag matches.
func (e *Engine) searchDocuments(ctx context.Context, site string, q Query) (*Results, error) {
	ids := unique(q.DocumentIDs)
	tagKeys := make([]store.Key, 0, len(ids))

	for _, id := range ids {
		key, err := keys.Tag(site, id, q.Tag.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}

		tagKeys = append(tagKeys, key)
	}

	byID := make(map[string]*model.Tag, len(ids))

	for chunk := range slices.Chunk(tagKeys, store.MaxBatchGetKeys) {
		items, err := e.store.BatchGet(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to read tag %s of documents: %w", q.Tag.Key, err)
		}

		for _, item := range items {
			tag, err := e.decoder.Tag(item)
			if err != nil {
				return nil, err
			}

			byID[tag.DocumentID] = tag
		}
	}

	var matches []match

	for _, id := range ids {
		tag, ok := byID[id]
		if !ok {
			continue
		}

		if values := q.Tag.match(tag); len(values) > 0 {
			matches = append(matches, match{documentID: id, tag: newMatchedTag(q.Tag.Key, values)})
		}
	}

	return e.join(ctx, site, matches)
}

type match struct {
	documentID string
	tag        MatchedTag
}

// join reads the documents of matches and pairs them up, preserving the
// order of matches. Matches whose document is missing are dropped.
func (e *Engine) join(ctx context.Context, site string, matches []match) (*Results, error) {
	results := &Results{Documents: []Result{}}
	if len(matches) == 0 {
		return results, nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.documentID)
	}

	docs, err := e.documents.FindDocuments(ctx, site, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*model.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}

	for _, m := range matches {
		doc, ok := byID[m.documentID]
		if !ok {
			e.opts.logger.Warn("Search match without document, skipping",
				zap.String("site", site),
				zap.String("documentId", m.documentID),
				zap.String("tagKey", m.tag.Key),
			)

			continue
		}

		results.Documents = append(results.Documents, Result{Document: doc, MatchedTag: m.tag})
	}

	return results, nil
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	return out
}
