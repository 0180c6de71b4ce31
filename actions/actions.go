package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docmgr/docstore/documents"
	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/lock"
	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/store"
	"go.uber.org/zap"
)

const (
	lockName     = "actions"
	sequenceName = "actions"
)

var (
	// ErrInvalidAction reports an action that is missing a required
	// parameter, or a request that names an unknown type or status.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidTransition reports a status change the lifecycle does not
	// allow.
	ErrInvalidTransition = errors.New("invalid action status transition")
)

// Service reads and writes document actions.
type Service struct {
	store     store.Store
	documents *documents.Service
	locks     *lock.Manager
	decoder   model.Decoder
	opts      *Options
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
		return nil, fmt.Errorf("invalid actions options: %w", err)
	}

	docs, err := documents.New(s, documents.WithStrictDates(o.strictDates), documents.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	locks := o.locks
	if locks == nil {
		locks, err = lock.New(s, lock.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
	}

	return &Service{
		store:     s,
		documents: docs,
		locks:     locks,
		decoder:   model.Decoder{StrictDates: o.strictDates},
		opts:      o,
	}, nil
}

// SaveActions replaces the action list of a document with list. Existing
// actions are deleted first; the new ones get fresh indices in list order.
// Document id, index, status (PENDING when unset) and dates are stamped on
// the given actions.
func (s *Service) SaveActions(ctx context.Context, site, documentID string, list []*model.Action) error {
	return s.writeList(ctx, site, documentID, list, true)
}

// AddActions appends list to the action list of a document, the same way
// as [Service.SaveActions] but keeping the existing actions.
func (s *Service) AddActions(ctx context.Context, site, documentID string, list []*model.Action) error {
	return s.writeList(ctx, site, documentID, list, false)
}

func (s *Service) writeList(ctx context.Context, site, documentID string, list []*model.Action, replace bool) error {
	for _, a := range list {
		if err := Validate(a); err != nil {
			return err
		}
	}

	doc, err := keys.Document(site, documentID)
	if err != nil {
		return err
	}

	lockKey, err := keys.Lock(doc.PK, lockName)
	if err != nil {
		return err
	}

	return s.locks.WithLock(ctx, lockKey, s.opts.lockTimeout, s.opts.lockLease, func(ctx context.Context) error {
		if replace {
			if err := s.store.DeleteBeginsWith(ctx, doc.PK, keys.ActionPrefix); err != nil {
				return fmt.Errorf("failed to delete actions of document %s: %w", documentID, err)
			}
		}

		if len(list) == 0 {
			return nil
		}

		first, err := s.documents.NextSequence(ctx, site, documentID, sequenceName, len(list))
		if err != nil {
			return err
		}

		now := s.opts.clock().UTC()
		items := make([]store.Item, 0, len(list))

		for n, a := range list {
			prepare(a, documentID, int(first)+n, now)

			item, err := a.Attributes(site)
			if err != nil {
				return err
			}

			items = append(items, item)
		}

		if err := s.store.PutBatch(ctx, items); err != nil {
			return fmt.Errorf("failed to write actions of document %s: %w", documentID, err)
		}

		s.opts.logger.Debug("Actions written",
			zap.String("site", site),
			zap.String("documentId", documentID),
			zap.Bool("replace", replace),
			zap.Int64("firstIndex", first),
			zap.Int("count", len(list)),
		)

		return nil
	})
}

func prepare(a *model.Action, documentID string, index int, now time.Time) {
	a.DocumentID = documentID
	a.Index = index

	if a.Status == "" {
		a.Status = model.ActionStatusPending
	}

	if a.InsertedDate.IsZero() {
		a.InsertedDate = now
	}

	if a.Status == model.ActionStatusInQueue && a.QueuedDate.IsZero() {
		a.QueuedDate = now
	}

	if a.Status.Terminal() && a.CompletedDate.IsZero() {
		a.CompletedDate = now
	}
}

// GetActions returns every action of a document in index order.
func (s *Service) GetActions(ctx context.Context, site, documentID string) ([]*model.Action, error) {
	doc, err := keys.Document(site, documentID)
	if err != nil {
		return nil, err
	}

	var list []*model.Action

	q := store.BeginsWith(doc.PK, keys.ActionPrefix)

	for {
		page, err := s.store.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to list actions of document %s: %w", documentID, err)
		}

		actions, err := s.decode(page.Items)
		if err != nil {
			return nil, err
		}

		list = append(list, actions...)

		if page.LastEvaluatedKey == nil {
			return list, nil
		}

		q.StartKey = page.LastEvaluatedKey
	}
}

// GetAction returns the action of a document at index, or nil if there is
// none.
func (s *Service) GetAction(ctx context.Context, site, documentID string, index int) (*model.Action, error) {
	doc, err := keys.Document(site, documentID)
	if err != nil {
		return nil, err
	}

	if index < 0 {
		return nil, fmt.Errorf("%w: action index cannot be negative", store.ErrInvalidKey)
	}

	q := store.BeginsWith(doc.PK, keys.ActionIndexPrefix(index))
	q.Limit = 1

	page, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to read action %d of document %s: %w", index, documentID, err)
	}

	if len(page.Items) == 0 {
		return nil, nil //nolint:nilnil
	}

	return s.decoder.Action(page.Items[0])
}

// DeleteActions removes every action of a document.
func (s *Service) DeleteActions(ctx context.Context, site, documentID string) error {
	return s.writeList(ctx, site, documentID, nil, true)
}

func (s *Service) decode(items []store.Item) ([]*model.Action, error) {
	list := make([]*model.Action, 0, len(items))

	for _, item := range items {
		a, err := s.decoder.Action(item)
		if err != nil {
			return nil, err
		}

		list = append(list, a)
	}

	return list, nil
}
