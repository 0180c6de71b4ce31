package store

import (
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ConditionOp is the operator of a [Condition] node.
type ConditionOp int

const (
	OpAttributeExists ConditionOp = iota + 1
	OpAttributeNotExists
	OpEqual
	OpLessThan
	OpAnd
	OpOr
)

// Condition is a precondition on the current state of an item, used by
// [Store.PutIf] and [Store.DeleteIf]. Build conditions with the constructor
// functions; the zero value is not a valid condition.
//
// Values are plain Go values (string, integers, bool) and are compared with
// the item attribute after conversion with attributevalue.Marshal.
type Condition struct {
	Op    ConditionOp
	Attr  string
	Value any
	Terms []Condition
}

// AttributeExists holds when attr is present.
func AttributeExists(attr string) Condition {
	return Condition{Op: OpAttributeExists, Attr: attr}
}

// AttributeNotExists holds when attr is absent, including when the whole
// item is absent.
func AttributeNotExists(attr string) Condition {
	return Condition{Op: OpAttributeNotExists, Attr: attr}
}

// Equal holds when attr is present and equal to value.
func Equal(attr string, value any) Condition {
	return Condition{Op: OpEqual, Attr: attr, Value: value}
}

// LessThan holds when attr is present and less than value. Numbers compare
// numerically and strings lexicographically.
func LessThan(attr string, value any) Condition {
	return Condition{Op: OpLessThan, Attr: attr, Value: value}
}

// And holds when every term holds.
func And(terms ...Condition) Condition {
	return Condition{Op: OpAnd, Terms: terms}
}

// Or holds when at least one term holds.
func Or(terms ...Condition) Condition {
	return Condition{Op: OpOr, Terms: terms}
}

// Eval evaluates the condition against the current item. A nil item stands
// for an absent item. Backends without native condition support evaluate
// conditions with Eval while holding the item exclusively.
func (c Condition) Eval(item Item) (bool, error) {
	switch c.Op {
	case OpAttributeExists:
		return item.Has(c.Attr), nil
	case OpAttributeNotExists:
		return !item.Has(c.Attr), nil
	case OpEqual, OpLessThan:
		current, ok := item[c.Attr]
		if !ok {
			return false, nil
		}

		want, err := attributevalue.Marshal(c.Value)
		if err != nil {
			return false, err
		}

		if c.Op == OpEqual {
			return equalValues(current, want), nil
		}

		return lessThan(current, want), nil
	case OpAnd:
		for _, t := range c.Terms {
			ok, err := t.Eval(item)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case OpOr:
		for _, t := range c.Terms {
			ok, err := t.Eval(item)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, nil
	}
}

func equalValues(a, b dynamodbtypes.AttributeValue) bool {
	switch av := a.(type) {
	case *dynamodbtypes.AttributeValueMemberS:
		bv, ok := b.(*dynamodbtypes.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *dynamodbtypes.AttributeValueMemberN:
		bv, ok := b.(*dynamodbtypes.AttributeValueMemberN)
		if !ok {
			return false
		}

		x, errX := strconv.ParseFloat(av.Value, 64)
		y, errY := strconv.ParseFloat(bv.Value, 64)

		return errX == nil && errY == nil && x == y
	case *dynamodbtypes.AttributeValueMemberBOOL:
		bv, ok := b.(*dynamodbtypes.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	default:
		return false
	}
}

func lessThan(a, b dynamodbtypes.AttributeValue) bool {
	switch av := a.(type) {
	case *dynamodbtypes.AttributeValueMemberS:
		bv, ok := b.(*dynamodbtypes.AttributeValueMemberS)
		return ok && av.Value < bv.Value
	case *dynamodbtypes.AttributeValueMemberN:
		bv, ok := b.(*dynamodbtypes.AttributeValueMemberN)
		if !ok {
			return false
		}

		x, errX := strconv.ParseFloat(av.Value, 64)
		y, errY := strconv.ParseFloat(bv.Value, 64)

		return errX == nil && errY == nil && x < y
	default:
		return false
	}
}
