package keys

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docmgr/docstore/store"
)

const (
	// Delimiter joins key components. It is not permitted inside any component.
	Delimiter = "#"

	// DefaultSiteID is the site identifier of the default tenant. It is
	// equivalent to an empty site identifier and produces unprefixed keys.
	DefaultSiteID = "default"

	// DocumentSortKey is the sort key of a document's metadata item.
	DocumentSortKey = "document"

	// TagPrefix prefixes the sort keys of tag items.
	TagPrefix = "tag" + Delimiter

	// ActionPrefix prefixes the sort keys of action items.
	ActionPrefix = "action" + Delimiter

	// DateLayout is the fixed-width UTC timestamp layout used inside keys, so
	// that lexicographic order equals chronological order.
	DateLayout = "2006-01-02T15:04:05.000Z"

	documentsPrefix = "documents" + Delimiter
	actionsPrefix   = "actions" + Delimiter
	lockPrefix      = "lock" + Delimiter
	sequencePrefix  = "sequence" + Delimiter
	tagValueInfix   = Delimiter + "idx"
	actionIndexFmt  = "%010d"
)

// Projection is one secondary-index (key, sort) pair derived from a record.
type Projection struct {
	Index store.Index
	PK    string
	SK    string
}

// Apply writes the projection's index attributes onto item.
func (p Projection) Apply(item store.Item) {
	pkAttr, skAttr := p.Index.KeyAttributes()
	item.SetString(pkAttr, p.PK)
	item.SetString(skAttr, p.SK)
}

// FormatDate renders t in [DateLayout].
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// SiteKey prefixes key with the site identifier. The default site adds no
// prefix, so single-tenant data never carries one.
func SiteKey(site, key string) string {
	if site == "" || site == DefaultSiteID {
		return key
	}

	return site + Delimiter + key
}

// Document returns the key of a document's metadata item.
func Document(site, documentID string) (store.Key, error) {
	pk, err := documentPK(site, documentID)
	if err != nil {
		return store.Key{}, err
	}

	return store.Key{PK: pk, SK: DocumentSortKey}, nil
}

// Tag returns the key of a document tag's primary item.
func Tag(site, documentID, tagKey string) (store.Key, error) {
	pk, err := documentPK(site, documentID)
	if err != nil {
		return store.Key{}, err
	}

	if err := component("tag key", tagKey); err != nil {
		return store.Key{}, err
	}

	return store.Key{PK: pk, SK: TagPrefix + tagKey}, nil
}

// TagValuePrefix returns the sort key prefix shared by the value items of a
// multi-valued tag.
func TagValuePrefix(tagKey string) string {
	return TagPrefix + tagKey + tagValueInfix
}

// TagValue returns the key of the n-th value item of a multi-valued tag.
func TagValue(site, documentID, tagKey string, n int) (store.Key, error) {
	key, err := Tag(site, documentID, tagKey)
	if err != nil {
		return store.Key{}, err
	}

	if n < 0 {
		return store.Key{}, fmt.Errorf("%w: tag value index cannot be negative", store.ErrInvalidKey)
	}

	key.SK = TagValuePrefix(tagKey) + strconv.Itoa(n)

	return key, nil
}

// TagIndexes returns the exact-match (GSI1) and prefix-match (GSI2)
// projections of one tag value. Within a partition, entries sort by
// insertion date.
func TagIndexes(site, documentID, tagKey, value string, inserted time.Time) ([]Projection, error) {
	if err := validSite(site); err != nil {
		return nil, err
	}

	if err := component("document ID", documentID); err != nil {
		return nil, err
	}

	if err := component("tag key", tagKey); err != nil {
		return nil, err
	}

	if strings.Contains(value, Delimiter) {
		return nil, fmt.Errorf("%w: tag value cannot contain '%s'", store.ErrInvalidKey, Delimiter)
	}

	date := FormatDate(inserted)

	return []Projection{
		{
			Index: store.IndexGSI1,
			PK:    TagExactPK(site, tagKey, value),
			SK:    date + Delimiter + documentID,
		},
		{
			Index: store.IndexGSI2,
			PK:    TagPrefixPK(site, tagKey),
			SK:    value + Delimiter + date + Delimiter + documentID,
		},
	}, nil
}

// TagExactPK returns the GSI1 partition holding every document tagged
// tagKey=value.
func TagExactPK(site, tagKey, value string) string {
	return SiteKey(site, TagPrefix+tagKey+Delimiter+value)
}

// TagPrefixPK returns the GSI2 partition holding every document tagged with
// tagKey, sorted by value.
func TagPrefixPK(site, tagKey string) string {
	return SiteKey(site, TagPrefix+tagKey)
}

// Action returns the key of a document's action item. The zero padded index
// keeps a document's actions in pipeline order.
func Action(site, documentID string, index int, actionType string) (store.Key, error) {
	pk, err := documentPK(site, documentID)
	if err != nil {
		return store.Key{}, err
	}

	if index < 0 {
		return store.Key{}, fmt.Errorf("%w: action index cannot be negative", store.ErrInvalidKey)
	}

	if err := component("action type", actionType); err != nil {
		return store.Key{}, err
	}

	return store.Key{PK: pk, SK: ActionPrefix + fmt.Sprintf(actionIndexFmt, index) + Delimiter + actionType}, nil
}

// ActionIndexPrefix returns the sort key prefix of the action at index,
// whatever its type.
func ActionIndexPrefix(index int) string {
	return ActionPrefix + fmt.Sprintf(actionIndexFmt, index) + Delimiter
}

// ActionQueueIndex returns the GSI1 projection of an action waiting in a
// queue. Entries of a queue sort by dispatch time.
func ActionQueueIndex(site, documentID string, index int, actionType, queueID string, queued time.Time) (Projection, error) {
	pk, err := ActionQueuePK(site, actionType, queueID)
	if err != nil {
		return Projection{}, err
	}

	if err := component("document ID", documentID); err != nil {
		return Projection{}, err
	}

	if queued.IsZero() {
		return Projection{}, fmt.Errorf("%w: queued date cannot be empty", store.ErrInvalidKey)
	}

	return Projection{
		Index: store.IndexGSI1,
		PK:    pk,
		SK:    ActionPrefix + FormatDate(queued) + Delimiter + documentID + Delimiter + fmt.Sprintf(actionIndexFmt, index),
	}, nil
}

// ActionQueuePK returns the GSI1 partition of a queue.
func ActionQueuePK(site, actionType, queueID string) (string, error) {
	if err := validSite(site); err != nil {
		return "", err
	}

	if err := component("action type", actionType); err != nil {
		return "", err
	}

	if err := component("queue ID", queueID); err != nil {
		return "", err
	}

	return SiteKey(site, ActionPrefix+actionType+Delimiter+queueID), nil
}

// ActionStatusIndex returns the GSI2 projection listing an action under its
// status across documents.
func ActionStatusIndex(site, documentID string, index int, status string) (Projection, error) {
	pk, err := ActionStatusPK(site, status)
	if err != nil {
		return Projection{}, err
	}

	if err := component("document ID", documentID); err != nil {
		return Projection{}, err
	}

	return Projection{
		Index: store.IndexGSI2,
		PK:    pk,
		SK:    ActionPrefix + documentID + Delimiter + fmt.Sprintf(actionIndexFmt, index),
	}, nil
}

// ActionStatusPK returns the GSI2 partition of a status.
func ActionStatusPK(site, status string) (string, error) {
	if err := validSite(site); err != nil {
		return "", err
	}

	if err := component("action status", status); err != nil {
		return "", err
	}

	return SiteKey(site, actionsPrefix+status+Delimiter), nil
}

// Lock returns the key of the lock record guarding the named resource of
// partition pk.
func Lock(pk, name string) (store.Key, error) {
	if pk == "" {
		return store.Key{}, fmt.Errorf("%w: lock partition key cannot be empty", store.ErrInvalidKey)
	}

	if err := component("lock name", name); err != nil {
		return store.Key{}, err
	}

	return store.Key{PK: pk, SK: lockPrefix + name}, nil
}

// Sequence returns the key of the named counter of partition pk.
func Sequence(pk, name string) (store.Key, error) {
	if pk == "" {
		return store.Key{}, fmt.Errorf("%w: sequence partition key cannot be empty", store.ErrInvalidKey)
	}

	if err := component("sequence name", name); err != nil {
		return store.Key{}, err
	}

	return store.Key{PK: pk, SK: sequencePrefix + name}, nil
}

func documentPK(site, documentID string) (string, error) {
	if err := validSite(site); err != nil {
		return "", err
	}

	if err := component("document ID", documentID); err != nil {
		return "", err
	}

	return SiteKey(site, documentsPrefix+documentID), nil
}

func validSite(site string) error {
	if strings.Contains(site, Delimiter) {
		return fmt.Errorf("%w: site ID cannot contain '%s'", store.ErrInvalidKey, Delimiter)
	}

	return nil
}

func component(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s cannot be empty", store.ErrInvalidKey, name)
	}

	if strings.Contains(value, Delimiter) {
		return fmt.Errorf("%w: %s cannot contain '%s'", store.ErrInvalidKey, name, Delimiter)
	}

	return nil
}
