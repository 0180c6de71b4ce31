package store

import (
	"context"
	"strconv"

	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// PartitionKey is the partition key attribute name.
	PartitionKey = "PK"

	// SortKey is the sort key attribute name.
	SortKey = "SK"

	// GSI1PartitionKey is the partition key attribute of the [IndexGSI1] index.
	GSI1PartitionKey = "GSI1PK"

	// GSI1SortKey is the sort key attribute of the [IndexGSI1] index.
	GSI1SortKey = "GSI1SK"

	// GSI2PartitionKey is the partition key attribute of the [IndexGSI2] index.
	GSI2PartitionKey = "GSI2PK"

	// GSI2SortKey is the sort key attribute of the [IndexGSI2] index.
	GSI2SortKey = "GSI2SK"

	// KindAttr is the record kind discriminator attribute.
	KindAttr = "kind"

	// TTLAttr holds a Unix timestamp (seconds) after which the backend may
	// physically remove the item.
	TTLAttr = "TTL"

	// MaxBatchGetKeys is the largest number of keys a single [Store.BatchGet]
	// call accepts. Callers re-chunk larger requests.
	MaxBatchGetKeys = 100

	// MaxBatchWriteItems is the number of items written per batch request.
	MaxBatchWriteItems = 25
)

// Index names a secondary index. The zero value addresses the table itself.
type Index string

const (
	// IndexTable queries the table by PK/SK.
	IndexTable Index = ""

	// IndexGSI1 queries by GSI1PK/GSI1SK.
	IndexGSI1 Index = "GSI1"

	// IndexGSI2 queries by GSI2PK/GSI2SK.
	IndexGSI2 Index = "GSI2"
)

// KeyAttributes returns the partition and sort key attribute names of the index.
func (i Index) KeyAttributes() (string, string) {
	switch i {
	case IndexGSI1:
		return GSI1PartitionKey, GSI1SortKey
	case IndexGSI2:
		return GSI2PartitionKey, GSI2SortKey
	default:
		return PartitionKey, SortKey
	}
}

// Item is one untyped record as the backing store sees it.
type Item map[string]dynamodbtypes.AttributeValue

// Key returns the primary key of the item.
func (i Item) Key() Key {
	return Key{PK: i.String(PartitionKey), SK: i.String(SortKey)}
}

// String returns the string value of attr, or "" when it is absent or not a
// string.
func (i Item) String(attr string) string {
	if v, ok := i[attr].(*dynamodbtypes.AttributeValueMemberS); ok {
		return v.Value
	}

	return ""
}

// Int returns the numeric value of attr, or 0 when it is absent or not a
// number.
func (i Item) Int(attr string) int64 {
	if v, ok := i[attr].(*dynamodbtypes.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err == nil {
			return n
		}
	}

	return 0
}

// Has reports whether attr is present.
func (i Item) Has(attr string) bool {
	_, ok := i[attr]
	return ok
}

// SetString sets attr to a string value. Empty values are not written.
func (i Item) SetString(attr, value string) {
	if value == "" {
		return
	}

	i[attr] = &dynamodbtypes.AttributeValueMemberS{Value: value}
}

// SetInt sets attr to a numeric value.
func (i Item) SetInt(attr string, value int64) {
	i[attr] = &dynamodbtypes.AttributeValueMemberN{Value: strconv.FormatInt(value, 10)}
}

// Key is the primary key of an item.
type Key struct {
	PK string
	SK string
}

// Item returns the key as an attribute map.
func (k Key) Item() Item {
	return Item{
		PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: k.PK},
		SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: k.SK},
	}
}

// String renders the key for logs and error messages.
func (k Key) String() string {
	return k.PK + " " + k.SK
}

// Store is the storage gateway. It is the only component performing
// physical reads and writes. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the item with the given key, or (nil, nil) if it does not exist.
	Get(ctx context.Context, key Key) (Item, error)

	// Exists reports whether an item with the given key exists.
	Exists(ctx context.Context, key Key) (bool, error)

	// BatchGet returns the items that exist for the given keys, in no
	// particular order. At most [MaxBatchGetKeys] keys are accepted.
	BatchGet(ctx context.Context, keys []Key) ([]Item, error)

	// Put unconditionally writes the item.
	Put(ctx context.Context, item Item) error

	// PutBatch unconditionally writes all items, retrying any rejected
	// sub-batch with bounded backoff.
	PutBatch(ctx context.Context, items []Item) error

	// PutIf writes the item only if cond holds for the current item. It
	// returns [ErrPreconditionFailed] otherwise.
	PutIf(ctx context.Context, item Item, cond Condition) error

	// Increment atomically adds delta to the numeric attr of the item with the
	// given key, creating the item when absent, and returns the new value.
	Increment(ctx context.Context, key Key, attr string, delta int64) (int64, error)

	// Delete removes the item. Deleting an absent item is not an error.
	Delete(ctx context.Context, key Key) error

	// DeleteIf removes the item only if cond holds for the current item. It
	// returns [ErrPreconditionFailed] otherwise.
	DeleteIf(ctx context.Context, key Key, cond Condition) error

	// DeleteBatch removes all items with the given keys.
	DeleteBatch(ctx context.Context, keys []Key) error

	// DeleteBeginsWith removes every item of partition pk whose sort key
	// starts with skPrefix. Matching keys are enumerated first, then deleted.
	DeleteBeginsWith(ctx context.Context, pk, skPrefix string) error

	// Query returns one page of items of a partition of the table or of a
	// secondary index.
	Query(ctx context.Context, q Query) (*Page, error)
}
