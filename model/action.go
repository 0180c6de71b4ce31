package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/store"
)

// ActionType is the kind of processing an action performs.
type ActionType string

const (
	ActionTypeOCR             ActionType = "OCR"
	ActionTypeFullText        ActionType = "FULLTEXT"
	ActionTypeAntivirus       ActionType = "ANTIVIRUS"
	ActionTypeWebhook         ActionType = "WEBHOOK"
	ActionTypeNotification    ActionType = "NOTIFICATION"
	ActionTypeDocumentTagging ActionType = "DOCUMENTTAGGING"
	ActionTypeQueue           ActionType = "QUEUE"
)

// ActionTypes lists every known action type.
var ActionTypes = []ActionType{
	ActionTypeOCR,
	ActionTypeFullText,
	ActionTypeAntivirus,
	ActionTypeWebhook,
	ActionTypeNotification,
	ActionTypeDocumentTagging,
	ActionTypeQueue,
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}

	return false
}

// ActionStatus is the lifecycle state of an action.
type ActionStatus string

const (
	ActionStatusPending  ActionStatus = "PENDING"
	ActionStatusInQueue  ActionStatus = "IN_QUEUE"
	ActionStatusRunning  ActionStatus = "RUNNING"
	ActionStatusComplete ActionStatus = "COMPLETE"
	ActionStatusFailed   ActionStatus = "FAILED"
)

// OutstandingStatuses lists the statuses indexed as outstanding, in the order
// they are listed.
var OutstandingStatuses = []ActionStatus{
	ActionStatusPending,
	ActionStatusInQueue,
	ActionStatusRunning,
	ActionStatusFailed,
}

// Valid reports whether s is a known status.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionStatusPending, ActionStatusInQueue, ActionStatusRunning, ActionStatusComplete, ActionStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusComplete || s == ActionStatusFailed
}

// Well-known action parameters.
const (
	ParameterQueueID = "queueId"
	ParameterURL     = "url"
	ParameterEngine  = "engine"
	ParameterTags    = "tags"
)

// Action is one step of a document's processing pipeline.
type Action struct {
	DocumentID    string
	Index         int
	Type          ActionType
	Status        ActionStatus
	Parameters    map[string]string
	Metadata      map[string]string
	Message       string
	InsertedDate  time.Time
	QueuedDate    time.Time
	CompletedDate time.Time
	UserID        string
}

// QueueID returns the queue the action is dispatched to.
func (a *Action) QueueID() string {
	return a.Parameters[ParameterQueueID]
}

// PrimaryKey returns the action's table key.
func (a *Action) PrimaryKey(site string) (store.Key, error) {
	if err := required("action document ID", a.DocumentID); err != nil {
		return store.Key{}, err
	}

	if err := required("action type", string(a.Type)); err != nil {
		return store.Key{}, err
	}

	return keys.Action(site, a.DocumentID, a.Index, string(a.Type))
}

// Projections returns the secondary-index entries the action's current
// status calls for: a queue entry while IN_QUEUE and a status entry while
// not COMPLETE.
func (a *Action) Projections(site string) ([]keys.Projection, error) {
	var projections []keys.Projection

	if a.Status == ActionStatusInQueue {
		if err := required("queueId parameter of queued action", a.QueueID()); err != nil {
			return nil, err
		}

		if a.QueuedDate.IsZero() {
			return nil, required("queued date of queued action", "")
		}

		p, err := keys.ActionQueueIndex(site, a.DocumentID, a.Index, string(a.Type), a.QueueID(), a.QueuedDate)
		if err != nil {
			return nil, err
		}

		projections = append(projections, p)
	}

	if a.Status != ActionStatusComplete {
		p, err := keys.ActionStatusIndex(site, a.DocumentID, a.Index, string(a.Status))
		if err != nil {
			return nil, err
		}

		projections = append(projections, p)
	}

	return projections, nil
}

// Attributes returns the action's item, including the index projections of
// its current status.
func (a *Action) Attributes(site string) (store.Item, error) {
	key, err := a.PrimaryKey(site)
	if err != nil {
		return nil, err
	}

	if err := required("action status", string(a.Status)); err != nil {
		return nil, err
	}

	projections, err := a.Projections(site)
	if err != nil {
		return nil, err
	}

	item := newItem(key, KindAction)
	item.SetString(AttrDocumentID, a.DocumentID)
	item.SetInt(AttrIndex, int64(a.Index))
	item.SetString(AttrType, string(a.Type))
	item.SetString(AttrStatus, string(a.Status))
	item.SetString(AttrMessage, a.Message)
	item.SetString(AttrUserID, a.UserID)
	setDate(item, AttrInsertedDate, a.InsertedDate)
	setDate(item, AttrQueuedDate, a.QueuedDate)
	setDate(item, AttrCompletedDate, a.CompletedDate)

	if err := setStringMap(item, AttrParameters, a.Parameters); err != nil {
		return nil, err
	}

	if err := setStringMap(item, AttrMetadata, a.Metadata); err != nil {
		return nil, err
	}

	for _, p := range projections {
		p.Apply(item)
	}

	return item, nil
}

// Action decodes an action item. Records written before the index attribute
// existed get their index from the sort key.
func (d Decoder) Action(item store.Item) (*Action, error) {
	inserted, err := d.date(item, AttrInsertedDate)
	if err != nil {
		return nil, err
	}

	queued, err := d.date(item, AttrQueuedDate)
	if err != nil {
		return nil, err
	}

	completed, err := d.date(item, AttrCompletedDate)
	if err != nil {
		return nil, err
	}

	index := int(item.Int(AttrIndex))
	if !item.Has(AttrIndex) {
		index = indexFromSortKey(item.String(store.SortKey))
	}

	return &Action{
		DocumentID:    item.String(AttrDocumentID),
		Index:         index,
		Type:          ActionType(item.String(AttrType)),
		Status:        ActionStatus(item.String(AttrStatus)),
		Parameters:    stringMap(item, AttrParameters),
		Metadata:      stringMap(item, AttrMetadata),
		Message:       item.String(AttrMessage),
		InsertedDate:  inserted,
		QueuedDate:    queued,
		CompletedDate: completed,
		UserID:        item.String(AttrUserID),
	}, nil
}

// ActionFromItem decodes an action item leniently.
func ActionFromItem(item store.Item) (*Action, error) {
	return Decoder{}.Action(item)
}

func indexFromSortKey(sk string) int {
	parts := strings.Split(sk, keys.Delimiter)
	if len(parts) < 3 || parts[0]+keys.Delimiter != keys.ActionPrefix {
		return 0
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}

	return n
}

// String renders the action for logs.
func (a *Action) String() string {
	return fmt.Sprintf("%s[%d] %s (%s)", a.DocumentID, a.Index, a.Type, a.Status)
}
