package actions

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/store"
)

// outstandingCursorStatus carries the status partition inside the cursor of
// [Service.ListOutstandingActions].
const outstandingCursorStatus = "_status"

// Page is one page of actions.
type Page struct {
	Actions []*model.Action

	// Cursor continues the listing, or is "" on the last page.
	Cursor string
}

// ListQueuedActions returns one page of the actions of a type waiting IN_QUEUE
// in a queue, oldest dispatch first.
func (s *Service) ListQueuedActions(ctx context.Context, site string, actionType model.ActionType, queueID, cursor string, limit int32) (*Page, error) {
	if !actionType.Valid() {
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, actionType)
	}

	pk, err := keys.ActionQueuePK(site, string(actionType), queueID)
	if err != nil {
		return nil, err
	}

	return s.list(ctx, store.Query{Index: store.IndexGSI1, PK: pk, Limit: limit}, cursor)
}

// ListActionsByStatus returns one page of the actions of every document
// with the given status. COMPLETE actions are not indexed by status and
// cannot be listed.
func (s *Service) ListActionsByStatus(ctx context.Context, site string, status model.ActionStatus, cursor string, limit int32) (*Page, error) {
	if !status.Valid() || status == model.ActionStatusComplete {
		return nil, fmt.Errorf("%w: actions with status %q are not listed", ErrInvalidAction, status)
	}

	pk, err := keys.ActionStatusPK(site, string(status))
	if err != nil {
		return nil, err
	}

	return s.list(ctx, store.Query{Index: store.IndexGSI2, PK: pk, Limit: limit}, cursor)
}

func (s *Service) list(ctx context.Context, q store.Query, cursor string) (*Page, error) {
	start, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	q.StartKey = start

	page, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions of %s: %w", q.PK, err)
	}

	actions, err := s.decode(page.Items)
	if err != nil {
		return nil, err
	}

	return &Page{Actions: actions, Cursor: page.Cursor()}, nil
}

// ListOutstandingActions returns one page of the actions that are not
// COMPLETE, walking the status partitions in the order of
// [model.OutstandingStatuses].
func (s *Service) ListOutstandingActions(ctx context.Context, site, cursor string, limit int32) (*Page, error) {
	from, start, err := decodeOutstandingCursor(cursor)
	if err != nil {
		return nil, err
	}

	remaining := limit
	if remaining <= 0 {
		remaining = store.DefaultQueryLimit
	}

	result := &Page{Actions: []*model.Action{}}
	statuses := model.OutstandingStatuses

	for n := from; n < len(statuses); n++ {
		pk, err := keys.ActionStatusPK(site, string(statuses[n]))
		if err != nil {
			return nil, err
		}

		page, err := s.store.Query(ctx, store.Query{Index: store.IndexGSI2, PK: pk, StartKey: start, Limit: remaining})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s actions: %w", statuses[n], err)
		}

		actions, err := s.decode(page.Items)
		if err != nil {
			return nil, err
		}

		result.Actions = append(result.Actions, actions...)
		remaining -= int32(len(actions))
		start = nil

		if page.LastEvaluatedKey != nil {
			result.Cursor = encodeOutstandingCursor(statuses[n], page.LastEvaluatedKey)
			return result, nil
		}

		if remaining <= 0 {
			if n+1 < len(statuses) {
				result.Cursor = encodeOutstandingCursor(statuses[n+1], nil)
			}

			return result, nil
		}
	}

	return result, nil
}

func encodeOutstandingCursor(status model.ActionStatus, lastEvaluatedKey store.Item) string {
	item := store.Item{}
	maps.Copy(item, lastEvaluatedKey)

	item.SetString(outstandingCursorStatus, string(status))

	return store.EncodeCursor(item)
}

func decodeOutstandingCursor(cursor string) (int, store.Item, error) {
	item, err := store.DecodeCursor(cursor)
	if err != nil {
		return 0, nil, err
	}

	if item == nil {
		return 0, nil, nil
	}

	status := model.ActionStatus(item.String(outstandingCursorStatus))

	n := slices.Index(model.OutstandingStatuses, status)
	if n < 0 {
		return 0, nil, errors.New("invalid cursor data: unknown status partition")
	}

	delete(item, outstandingCursorStatus)

	if len(item) == 0 {
		return n, nil, nil
	}

	return n, item, nil
}
