package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/store"
	"go.uber.org/zap"
)

// AddTags attaches tags to a document, replacing any tag with the same key.
// Each tag's document id is set to documentID, an unset inserted date to
// now and an unset type to USERDEFINED. A tag given a single element in
// Values is stored as single-valued.
func (s *Service) AddTags(ctx context.Context, site, documentID string, tags []*model.Tag) error {
	if len(tags) == 0 {
		return nil
	}

	if err := s.writeTags(ctx, site, documentID, "", tags, nil); err != nil {
		return err
	}

	s.opts.logger.Debug("Tags added",
		zap.String("site", site),
		zap.String("documentId", documentID),
		zap.Int("tags", len(tags)),
	)

	return nil
}

// writeTags writes extra (if any) and the items of tags, then removes value
// rows left over from earlier versions of the same tags. New index rows are
// in place before stale ones go away. When tags repeats a key, the last tag
// with that key is written.
func (s *Service) writeTags(ctx context.Context, site, documentID, userID string, tags []*model.Tag, extra store.Item) error {
	key, err := keys.Document(site, documentID)
	if err != nil {
		return err
	}

	tags, err = lastByKey(tags)
	if err != nil {
		return err
	}

	now := s.opts.clock().UTC()

	var items []store.Item
	if extra != nil {
		items = append(items, extra)
	}

	tagKeys := make(map[string]struct{}, len(tags))
	written := make(map[store.Key]struct{})

	for _, tag := range tags {
		prepareTag(tag, documentID, userID, now)

		tagItems, err := tag.Items(site)
		if err != nil {
			return err
		}

		for _, item := range tagItems {
			written[item.Key()] = struct{}{}
		}

		tagKeys[tag.Key] = struct{}{}
		items = append(items, tagItems...)
	}

	if err := s.store.PutBatch(ctx, items); err != nil {
		return fmt.Errorf("failed to write tags of document %s: %w", documentID, err)
	}

	if len(tagKeys) == 0 {
		return nil
	}

	stale, err := s.staleValueRows(ctx, key.PK, tagKeys, written)
	if err != nil {
		return err
	}

	if len(stale) == 0 {
		return nil
	}

	if err := s.store.DeleteBatch(ctx, stale); err != nil {
		return fmt.Errorf("failed to delete stale tag values of document %s: %w", documentID, err)
	}

	return nil
}

// lastByKey drops every tag that a later tag with the same key replaces,
// keeping the order of the remaining ones.
func lastByKey(tags []*model.Tag) ([]*model.Tag, error) {
	last := make(map[string]int, len(tags))

	for n, tag := range tags {
		if tag == nil {
			return nil, errors.New("tag cannot be nil")
		}

		last[tag.Key] = n
	}

	if len(last) == len(tags) {
		return tags, nil
	}

	kept := make([]*model.Tag, 0, len(last))
	for n, tag := range tags {
		if last[tag.Key] == n {
			kept = append(kept, tag)
		}
	}

	return kept, nil
}

// staleValueRows lists the value rows of the given tags that were not just
// written.
func (s *Service) staleValueRows(ctx context.Context, pk string, tagKeys map[string]struct{}, written map[store.Key]struct{}) ([]store.Key, error) {
	var stale []store.Key

	q := store.BeginsWith(pk, keys.TagPrefix)

	for {
		page, err := s.store.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to list tags of %s: %w", pk, err)
		}

		for _, item := range page.Items {
			if item.String(store.KindAttr) != model.KindTagValue {
				continue
			}

			if _, ok := tagKeys[item.String(model.AttrTagKey)]; !ok {
				continue
			}

			if _, ok := written[item.Key()]; !ok {
				stale = append(stale, item.Key())
			}
		}

		if page.LastEvaluatedKey == nil {
			return stale, nil
		}

		q.StartKey = page.LastEvaluatedKey
	}
}

func prepareTag(tag *model.Tag, documentID, userID string, now time.Time) {
	tag.DocumentID = documentID

	if len(tag.Values) == 1 {
		tag.Value = tag.Values[0]
		tag.Values = nil
	}

	if tag.MultiValued() {
		tag.Value = ""
	}

	if tag.InsertedDate.IsZero() {
		tag.InsertedDate = now
	}

	if tag.Type == "" {
		tag.Type = model.TagTypeUserDefined
	}

	if tag.UserID == "" {
		tag.UserID = userID
	}
}

// FindDocumentTags returns one page of a document's tags in key order.
// Value rows of multi-valued tags count against limit, so a page may hold
// fewer tags than limit while more remain.
func (s *Service) FindDocumentTags(ctx context.Context, site, documentID, cursor string, limit int32) (*TagPage, error) {
	key, err := keys.Document(site, documentID)
	if err != nil {
		return nil, err
	}

	start, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	q := store.BeginsWith(key.PK, keys.TagPrefix)
	q.StartKey = start
	q.Limit = limit

	page, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags of document %s: %w", documentID, err)
	}

	tags := make([]*model.Tag, 0, len(page.Items))

	for _, item := range page.Items {
		if item.String(store.KindAttr) == model.KindTagValue {
			continue
		}

		tag, err := s.decoder.Tag(item)
		if err != nil {
			return nil, err
		}

		tags = append(tags, tag)
	}

	return &TagPage{Tags: tags, Cursor: page.Cursor()}, nil
}

// FindDocumentTag returns the document's tag with the given key, or nil if
// the document has no such tag.
func (s *Service) FindDocumentTag(ctx context.Context, site, documentID, tagKey string) (*model.Tag, error) {
	key, err := keys.Tag(site, documentID, tagKey)
	if err != nil {
		return nil, err
	}

	item, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag %s of document %s: %w", tagKey, documentID, err)
	}

	if item == nil {
		return nil, nil //nolint:nilnil
	}

	return s.decoder.Tag(item)
}

// DeleteDocumentTag removes a tag and its value rows. Removing an absent tag
// is not an error.
func (s *Service) DeleteDocumentTag(ctx context.Context, site, documentID, tagKey string) error {
	key, err := keys.Tag(site, documentID, tagKey)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete tag %s of document %s: %w", tagKey, documentID, err)
	}

	if err := s.store.DeleteBeginsWith(ctx, key.PK, keys.TagValuePrefix(tagKey)); err != nil {
		return fmt.Errorf("failed to delete values of tag %s of document %s: %w", tagKey, documentID, err)
	}

	return nil
}
