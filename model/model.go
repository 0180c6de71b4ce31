package model

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/store"
)

// Record kinds stored in the kind discriminator attribute.
const (
	KindDocument = "document"
	KindTag      = "tag"
	KindTagValue = "tagvalue"
	KindAction   = "action"
	KindLock     = "lock"
	KindSequence = "sequence"
)

// Attribute names shared by several record kinds.
const (
	AttrDocumentID       = "documentId"
	AttrInsertedDate     = "inserteddate"
	AttrLastModifiedDate = "lastModifiedDate"
	AttrUserID           = "userId"
	AttrContentType      = "contentType"
	AttrContentLength    = "contentLength"
	AttrPath             = "path"
	AttrTagKey           = "tagKey"
	AttrTagValue         = "tagValue"
	AttrTagValues        = "tagValues"
	AttrType             = "type"
	AttrStatus           = "status"
	AttrIndex            = "index"
	AttrParameters       = "parameters"
	AttrMetadata         = "metadata"
	AttrMessage          = "message"
	AttrQueuedDate       = "queuedDate"
	AttrCompletedDate    = "completedDate"
)

// Record is implemented by every entity stored in the table. It derives the
// entity's keys and attribute map for a site.
type Record interface {
	PrimaryKey(site string) (store.Key, error)
	Attributes(site string) (store.Item, error)
}

var (
	_ Record = (*Document)(nil)
	_ Record = (*Tag)(nil)
	_ Record = (*Action)(nil)
)

// Decoder converts attribute maps back into entities.
//
// Decoding is permissive: unknown attributes are ignored and absent optional
// attributes stay unset. Dates that cannot be parsed are treated as unset,
// which keeps older records readable. Set StrictDates to reject them with
// [store.ErrEncoding] instead.
type Decoder struct {
	StrictDates bool
}

func (d Decoder) date(item store.Item, attr string) (time.Time, error) {
	s := item.String(attr)
	if s == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if d.StrictDates {
			return time.Time{}, fmt.Errorf("%w: attribute %s: %w", store.ErrEncoding, attr, err)
		}

		return time.Time{}, nil
	}

	return t, nil
}

func setDate(item store.Item, attr string, t time.Time) {
	if t.IsZero() {
		return
	}

	item.SetString(attr, keys.FormatDate(t))
}

func newItem(key store.Key, kind string) store.Item {
	item := key.Item()
	item.SetString(store.KindAttr, kind)

	return item
}

func setStringMap(item store.Item, attr string, m map[string]string) error {
	if len(m) == 0 {
		return nil
	}

	av, err := attributevalue.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: attribute %s: %w", store.ErrEncoding, attr, err)
	}

	item[attr] = av

	return nil
}

func stringMap(item store.Item, attr string) map[string]string {
	av, ok := item[attr]
	if !ok {
		return nil
	}

	var m map[string]string

	if err := attributevalue.Unmarshal(av, &m); err != nil || len(m) == 0 {
		return nil
	}

	return m
}

func setStringList(item store.Item, attr string, values []string) error {
	av, err := attributevalue.Marshal(values)
	if err != nil {
		return fmt.Errorf("%w: attribute %s: %w", store.ErrEncoding, attr, err)
	}

	item[attr] = av

	return nil
}

func stringList(item store.Item, attr string) []string {
	av, ok := item[attr]
	if !ok {
		return nil
	}

	var values []string

	if err := attributevalue.Unmarshal(av, &values); err != nil || len(values) == 0 {
		return nil
	}

	return values
}

func required(what, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", store.ErrEncoding, what)
	}

	return nil
}
