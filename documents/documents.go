package documents

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service reads and writes documents and their tags.
type Service struct {
	store   store.Store
	decoder model.Decoder
	opts    *Options
}

// TagPage is one page of a document's tags.
type TagPage struct {
	Tags []*model.Tag

	// Cursor continues the listing, or is "" on the last page.
	Cursor string
}

// New returns a Service backed by s.
func New(s store.Store, opts ...Option) (*Service, error) {
	if s == nil {
		return nil, errors.New("store cannot be nil")
	}

	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("invalid documents options: %w", err)
	}

	return &Service{
		store:   s,
		decoder: model.Decoder{StrictDates: o.strictDates},
		opts:    o,
	}, nil
}

// SaveDocument writes the document together with the given tags. The
// document's inserted date is set when unset and its last modified date is
// always set; both are stamped on doc. Tags are attached to the document
// the same way as by [Service.AddTags].
func (s *Service) SaveDocument(ctx context.Context, site string, doc *model.Document, tags []*model.Tag) error {
	if doc == nil {
		return errors.New("document cannot be nil")
	}

	now := s.opts.clock().UTC()

	if doc.InsertedDate.IsZero() {
		doc.InsertedDate = now
	}

	doc.LastModifiedDate = now

	item, err := doc.Attributes(site)
	if err != nil {
		return err
	}

	if err := s.writeTags(ctx, site, doc.ID, doc.UserID, tags, item); err != nil {
		return err
	}

	s.opts.logger.Debug("Document saved",
		zap.String("site", site),
		zap.String("documentId", doc.ID),
		zap.Int("tags", len(tags)),
	)

	return nil
}

// FindDocument returns the document, or nil if it does not exist.
func (s *Service) FindDocument(ctx context.Context, site, documentID string) (*model.Document, error) {
	key, err := keys.Document(site, documentID)
	if err != nil {
		return nil, err
	}

	item, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", documentID, err)
	}

	if item == nil {
		return nil, nil //nolint:nilnil
	}

	return s.decoder.Document(item)
}

// FindDocuments returns the documents with the given ids, in the order of
// ids. Documents that do not exist are skipped and duplicate ids are
// returned once. Ids are read in batches of [store.MaxBatchGetKeys], several
// batches at a time.
func (s *Service) FindDocuments(ctx context.Context, site string, documentIDs []string) ([]*model.Document, error) {
	ids := unique(documentIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	documentKeys := make([]store.Key, 0, len(ids))

	for _, id := range ids {
		key, err := keys.Document(site, id)
		if err != nil {
			return nil, err
		}

		documentKeys = append(documentKeys, key)
	}

	items, err := s.batchGet(ctx, documentKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	byID := make(map[string]*model.Document, len(items))

	for _, item := range items {
		doc, err := s.decoder.Document(item)
		if err != nil {
			return nil, err
		}

		byID[doc.ID] = doc
	}

	docs := make([]*model.Document, 0, len(byID))

	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
		}
	}

	return docs, nil
}

// batchGet reads keys in chunks of [store.MaxBatchGetKeys], running up to
// maxConcurrency chunks at once.
func (s *Service) batchGet(ctx context.Context, batchKeys []store.Key) ([]store.Item, error) {
	var chunks [][]store.Key
	for chunk := range slices.Chunk(batchKeys, store.MaxBatchGetKeys) {
		chunks = append(chunks, chunk)
	}

	results := make([][]store.Item, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.maxConcurrency)

	for n, chunk := range chunks {
		g.Go(func() error {
			items, err := s.store.BatchGet(gctx, chunk)
			if err != nil {
				return err
			}

			results[n] = items

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return slices.Concat(results...), nil
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
