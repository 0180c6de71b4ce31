package model

import (
	"time"

	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/store"
)

// Document is the metadata record of a stored document.
type Document struct {
	ID               string
	InsertedDate     time.Time
	LastModifiedDate time.Time
	UserID           string
	ContentType      string
	ContentLength    int64
	Path             string
}

// PrimaryKey returns the document's table key.
func (d *Document) PrimaryKey(site string) (store.Key, error) {
	if err := required("document ID", d.ID); err != nil {
		return store.Key{}, err
	}

	return keys.Document(site, d.ID)
}

// Attributes returns the document's attribute map.
func (d *Document) Attributes(site string) (store.Item, error) {
	key, err := d.PrimaryKey(site)
	if err != nil {
		return nil, err
	}

	item := newItem(key, KindDocument)
	item.SetString(AttrDocumentID, d.ID)
	setDate(item, AttrInsertedDate, d.InsertedDate)
	setDate(item, AttrLastModifiedDate, d.LastModifiedDate)
	item.SetString(AttrUserID, d.UserID)
	item.SetString(AttrContentType, d.ContentType)
	item.SetString(AttrPath, d.Path)

	if d.ContentLength > 0 {
		item.SetInt(AttrContentLength, d.ContentLength)
	}

	return item, nil
}

// Document decodes a document metadata item.
func (d Decoder) Document(item store.Item) (*Document, error) {
	inserted, err := d.date(item, AttrInsertedDate)
	if err != nil {
		return nil, err
	}

	modified, err := d.date(item, AttrLastModifiedDate)
	if err != nil {
		return nil, err
	}

	return &Document{
		ID:               item.String(AttrDocumentID),
		InsertedDate:     inserted,
		LastModifiedDate: modified,
		UserID:           item.String(AttrUserID),
		ContentType:      item.String(AttrContentType),
		ContentLength:    item.Int(AttrContentLength),
		Path:             item.String(AttrPath),
	}, nil
}

// DocumentFromItem decodes a document item leniently.
func DocumentFromItem(item store.Item) (*Document, error) {
	return Decoder{}.Document(item)
}
