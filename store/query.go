package store

import (
	"errors"
	"fmt"
	"strings"
)

// SortOp selects the sort key condition of a [Query].
type SortOp int

const (
	// SortAny matches every sort key of the partition.
	SortAny SortOp = iota

	// SortEqual matches sort keys equal to Query.SK.
	SortEqual

	// SortBeginsWith matches sort keys starting with Query.SK.
	SortBeginsWith

	// SortBetween matches sort keys in the inclusive range Query.SK..Query.SKHigh.
	SortBetween
)

// DefaultQueryLimit is used when Query.Limit is not positive.
const DefaultQueryLimit = 100

// Query describes a range read over one partition of the table or of a
// secondary index.
type Query struct {
	// Index selects the table ([IndexTable]) or a secondary index.
	Index Index

	// PK is the partition key value to read.
	PK string

	// SortOp and SK/SKHigh constrain the sort key.
	SortOp SortOp
	SK     string
	SKHigh string

	// StartKey is the last evaluated key of the previous page, as decoded
	// from a cursor. Nil starts from the beginning.
	StartKey Item

	// Limit caps the number of items returned in the page.
	Limit int32

	// Descending returns items in descending sort key order.
	Descending bool
}

// BeginsWith returns a table query for the items of pk whose sort key starts
// with prefix.
func BeginsWith(pk, prefix string) Query {
	return Query{PK: pk, SortOp: SortBeginsWith, SK: prefix}
}

// Between returns a table query for the items of pk whose sort key is in the
// inclusive range low..high.
func Between(pk, low, high string) Query {
	return Query{PK: pk, SortOp: SortBetween, SK: low, SKHigh: high}
}

// Validate checks that the query can be executed.
func (q Query) Validate() error {
	if q.PK == "" {
		return fmt.Errorf("%w: query partition key cannot be empty", ErrInvalidKey)
	}

	switch q.Index {
	case IndexTable, IndexGSI1, IndexGSI2:
	default:
		return fmt.Errorf("unknown index %q", q.Index)
	}

	switch q.SortOp {
	case SortAny:
	case SortEqual, SortBeginsWith:
		if q.SK == "" {
			return errors.New("query sort key cannot be empty")
		}
	case SortBetween:
		if q.SK == "" || q.SKHigh == "" {
			return errors.New("query sort key range cannot be empty")
		}

		if q.SK > q.SKHigh {
			return fmt.Errorf("query sort key range is inverted: %s > %s", q.SK, q.SKHigh)
		}
	default:
		return fmt.Errorf("unknown sort key condition %d", q.SortOp)
	}

	return nil
}

// EffectiveLimit returns Limit, or [DefaultQueryLimit] when Limit is not positive.
func (q Query) EffectiveLimit() int32 {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}

	return q.Limit
}

// MatchSort reports whether sk satisfies the sort key condition.
func (q Query) MatchSort(sk string) bool {
	switch q.SortOp {
	case SortEqual:
		return sk == q.SK
	case SortBeginsWith:
		return strings.HasPrefix(sk, q.SK)
	case SortBetween:
		return sk >= q.SK && sk <= q.SKHigh
	default:
		return true
	}
}

// Page is one page of query results.
type Page struct {
	Items []Item

	// LastEvaluatedKey is set when more results may remain. Pass it back as
	// Query.StartKey, or hand [Page.Cursor] to callers.
	LastEvaluatedKey Item
}

// Cursor returns the opaque continuation token of the page, or "" when the
// page is the last one.
func (p *Page) Cursor() string {
	if p == nil {
		return ""
	}

	return EncodeCursor(p.LastEvaluatedKey)
}
