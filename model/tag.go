package model

import (
	"time"

	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/store"
)

// TagType tells system-defined tags from user-defined ones.
type TagType string

const (
	TagTypeSystemDefined TagType = "SYSTEMDEFINED"
	TagTypeUserDefined   TagType = "USERDEFINED"
)

// Tag is a key with one value or an ordered set of values, attached to one
// document.
//
// A tag with more than one value is multi-valued: only Values is populated
// and Value is empty. Readers check Values first and fall back to Value.
type Tag struct {
	DocumentID   string
	Key          string
	Value        string
	Values       []string
	Type         TagType
	InsertedDate time.Time
	UserID       string
}

// MultiValued reports whether the tag carries more than one value.
func (t *Tag) MultiValued() bool {
	return len(t.Values) > 1
}

// AllValues returns the tag's values in order.
func (t *Tag) AllValues() []string {
	if len(t.Values) > 0 {
		return t.Values
	}

	return []string{t.Value}
}

// PrimaryKey returns the key of the tag's primary item.
func (t *Tag) PrimaryKey(site string) (store.Key, error) {
	if err := required("tag document ID", t.DocumentID); err != nil {
		return store.Key{}, err
	}

	if err := required("tag key", t.Key); err != nil {
		return store.Key{}, err
	}

	return keys.Tag(site, t.DocumentID, t.Key)
}

// Attributes returns the tag's primary item. A single-valued tag carries its
// index projections on the primary item; a multi-valued tag keeps them on
// its value items (see [Tag.ValueItems]).
func (t *Tag) Attributes(site string) (store.Item, error) {
	key, err := t.PrimaryKey(site)
	if err != nil {
		return nil, err
	}

	if t.InsertedDate.IsZero() {
		return nil, required("tag inserted date", "")
	}

	item := t.baseItem(key, KindTag)

	if t.MultiValued() {
		if err := setStringList(item, AttrTagValues, t.Values); err != nil {
			return nil, err
		}

		return item, nil
	}

	value := t.AllValues()[0]
	item.SetString(AttrTagValue, value)

	projections, err := keys.TagIndexes(site, t.DocumentID, t.Key, value, t.InsertedDate)
	if err != nil {
		return nil, err
	}

	for _, p := range projections {
		p.Apply(item)
	}

	return item, nil
}

// ValueItems returns one item per value of a multi-valued tag, each carrying
// the index projections of its value. Single-valued tags have none.
func (t *Tag) ValueItems(site string) ([]store.Item, error) {
	if !t.MultiValued() {
		return nil, nil
	}

	if _, err := t.PrimaryKey(site); err != nil {
		return nil, err
	}

	items := make([]store.Item, 0, len(t.Values))

	for n, value := range t.Values {
		key, err := keys.TagValue(site, t.DocumentID, t.Key, n)
		if err != nil {
			return nil, err
		}

		projections, err := keys.TagIndexes(site, t.DocumentID, t.Key, value, t.InsertedDate)
		if err != nil {
			return nil, err
		}

		item := t.baseItem(key, KindTagValue)
		item.SetString(AttrTagValue, value)

		for _, p := range projections {
			p.Apply(item)
		}

		items = append(items, item)
	}

	return items, nil
}

// Items returns the primary item followed by any value items.
func (t *Tag) Items(site string) ([]store.Item, error) {
	primary, err := t.Attributes(site)
	if err != nil {
		return nil, err
	}

	values, err := t.ValueItems(site)
	if err != nil {
		return nil, err
	}

	return append([]store.Item{primary}, values...), nil
}

func (t *Tag) baseItem(key store.Key, kind string) store.Item {
	item := newItem(key, kind)
	item.SetString(AttrDocumentID, t.DocumentID)
	item.SetString(AttrTagKey, t.Key)
	item.SetString(AttrType, string(t.Type))
	setDate(item, AttrInsertedDate, t.InsertedDate)
	item.SetString(AttrUserID, t.UserID)

	return item
}

// Tag decodes a tag primary item or a tag value item.
func (d Decoder) Tag(item store.Item) (*Tag, error) {
	inserted, err := d.date(item, AttrInsertedDate)
	if err != nil {
		return nil, err
	}

	tag := &Tag{
		DocumentID:   item.String(AttrDocumentID),
		Key:          item.String(AttrTagKey),
		Type:         TagType(item.String(AttrType)),
		InsertedDate: inserted,
		UserID:       item.String(AttrUserID),
	}

	if values := stringList(item, AttrTagValues); len(values) > 1 {
		tag.Values = values
	} else if len(values) == 1 {
		tag.Value = values[0]
	} else {
		tag.Value = item.String(AttrTagValue)
	}

	return tag, nil
}

// TagFromItem decodes a tag item leniently.
func TagFromItem(item store.Item) (*Tag, error) {
	return Decoder{}.Tag(item)
}
