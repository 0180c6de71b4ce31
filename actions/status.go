package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/store"
	"go.uber.org/zap"
)

var transitions = map[model.ActionStatus][]model.ActionStatus{
	model.ActionStatusPending: {
		model.ActionStatusInQueue,
		model.ActionStatusRunning,
		model.ActionStatusComplete,
		model.ActionStatusFailed,
	},
	model.ActionStatusInQueue: {
		model.ActionStatusRunning,
		model.ActionStatusComplete,
		model.ActionStatusFailed,
	},
	model.ActionStatusRunning: {
		model.ActionStatusComplete,
		model.ActionStatusFailed,
	},
}

// CanTransition reports whether an action may move from one status to
// another.
func CanTransition(from, to model.ActionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// UpdateActionStatus moves the action of a document at index to status and
// returns it as written. Entering IN_QUEUE stamps the queued date and
// entering COMPLETE or FAILED the completed date; a non-empty message
// replaces the action's message. The write only succeeds if the action
// still has the status it was read with, otherwise it fails with
// [store.ErrPreconditionFailed]. An absent action yields (nil, nil).
func (s *Service) UpdateActionStatus(ctx context.Context, site, documentID string, index int, status model.ActionStatus, message string) (*model.Action, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown action status %q", ErrInvalidAction, status)
	}

	current, err := s.GetAction(ctx, site, documentID, index)
	if err != nil {
		return nil, err
	}

	if current == nil {
		return nil, nil //nolint:nilnil
	}

	if !CanTransition(current.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, current.Status, status, current)
	}

	next := *current
	next.Status = status

	if message != "" {
		next.Message = message
	}

	now := s.opts.clock().UTC()

	if status == model.ActionStatusInQueue {
		next.QueuedDate = now
	}

	if status.Terminal() {
		next.CompletedDate = now
	}

	if err := Validate(&next); err != nil {
		return nil, err
	}

	item, err := next.Attributes(site)
	if err != nil {
		return nil, err
	}

	cond := store.And(
		store.AttributeExists(store.PartitionKey),
		store.Equal(model.AttrStatus, string(current.Status)),
	)

	if err := s.store.PutIf(ctx, item, cond); err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			s.opts.logger.Debug("Action status changed concurrently",
				zap.Stringer("action", current),
				zap.String("to", string(status)),
			)
		}

		return nil, fmt.Errorf("failed to update status of %s: %w", current, err)
	}

	s.opts.logger.Debug("Action status changed",
		zap.String("site", site),
		zap.Stringer("action", &next),
		zap.String("from", string(current.Status)),
	)

	return &next, nil
}
