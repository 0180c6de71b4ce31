package actions

import (
	"fmt"

	"github.com/docmgr/docstore/model"
)

// requiredParameters lists the parameters each action type cannot do
// without.
var requiredParameters = map[model.ActionType][]string{
	model.ActionTypeQueue:           {model.ParameterQueueID},
	model.ActionTypeWebhook:         {model.ParameterURL},
	model.ActionTypeDocumentTagging: {model.ParameterEngine, model.ParameterTags},
}

// Validate checks that a is a known action type carrying the parameters its
// type and status require.
func Validate(a *model.Action) error {
	if a == nil {
		return fmt.Errorf("%w: action cannot be nil", ErrInvalidAction)
	}

	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, a.Type)
	}

	if a.Status != "" && !a.Status.Valid() {
		return fmt.Errorf("%w: unknown action status %q", ErrInvalidAction, a.Status)
	}

	for _, p := range requiredParameters[a.Type] {
		if a.Parameters[p] == "" {
			return fmt.Errorf("%w: %s action requires the '%s' parameter", ErrInvalidAction, a.Type, p)
		}
	}

	if a.Status == model.ActionStatusInQueue && a.QueueID() == "" {
		return fmt.Errorf("%w: queued %s action requires the '%s' parameter", ErrInvalidAction, a.Type, model.ParameterQueueID)
	}

	return nil
}
