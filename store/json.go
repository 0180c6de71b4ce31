package store

import (
	"encoding/json"
	"fmt"

	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// jsonValue is the DynamoDB JSON rendering of a single attribute value.
type jsonValue struct {
	S    *string              `json:"S,omitempty"`
	N    *string              `json:"N,omitempty"`
	B    []byte               `json:"B,omitempty"`
	BOOL *bool                `json:"BOOL,omitempty"`
	NULL bool                 `json:"NULL,omitempty"`
	SS   []string             `json:"SS,omitempty"`
	NS   []string             `json:"NS,omitempty"`
	BS   [][]byte             `json:"BS,omitempty"`
	L    []jsonValue          `json:"L,omitempty"`
	M    map[string]jsonValue `json:"M,omitempty"`

	// empty lists and maps are otherwise indistinguishable from absent ones
	EmptyL bool `json:"EL,omitempty"`
	EmptyM bool `json:"EM,omitempty"`
}

// MarshalItemJSON renders an item in DynamoDB JSON. It is the wire format of
// cursors and of the attrs column of the postgres backend.
func MarshalItemJSON(item Item) ([]byte, error) {
	m, err := toJSONMap(item)
	if err != nil {
		return nil, err
	}

	return json.Marshal(m)
}

// UnmarshalItemJSON parses an item rendered by [MarshalItemJSON].
func UnmarshalItemJSON(data []byte) (Item, error) {
	var m map[string]jsonValue

	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item JSON: %w", err)
	}

	return fromJSONMap(m)
}

func toJSONMap(item map[string]dynamodbtypes.AttributeValue) (map[string]jsonValue, error) {
	m := make(map[string]jsonValue, len(item))

	for k, v := range item {
		jv, err := toJSONValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}

		m[k] = jv
	}

	return m, nil
}

func toJSONValue(av dynamodbtypes.AttributeValue) (jsonValue, error) {
	switch v := av.(type) {
	case *dynamodbtypes.AttributeValueMemberS:
		s := v.Value
		return jsonValue{S: &s}, nil
	case *dynamodbtypes.AttributeValueMemberN:
		n := v.Value
		return jsonValue{N: &n}, nil
	case *dynamodbtypes.AttributeValueMemberB:
		return jsonValue{B: v.Value}, nil
	case *dynamodbtypes.AttributeValueMemberBOOL:
		b := v.Value
		return jsonValue{BOOL: &b}, nil
	case *dynamodbtypes.AttributeValueMemberNULL:
		return jsonValue{NULL: true}, nil
	case *dynamodbtypes.AttributeValueMemberSS:
		return jsonValue{SS: v.Value}, nil
	case *dynamodbtypes.AttributeValueMemberNS:
		return jsonValue{NS: v.Value}, nil
	case *dynamodbtypes.AttributeValueMemberBS:
		return jsonValue{BS: v.Value}, nil
	case *dynamodbtypes.AttributeValueMemberL:
		if len(v.Value) == 0 {
			return jsonValue{EmptyL: true}, nil
		}

		l := make([]jsonValue, 0, len(v.Value))

		for _, e := range v.Value {
			jv, err := toJSONValue(e)
			if err != nil {
				return jsonValue{}, err
			}

			l = append(l, jv)
		}

		return jsonValue{L: l}, nil
	case *dynamodbtypes.AttributeValueMemberM:
		if len(v.Value) == 0 {
			return jsonValue{EmptyM: true}, nil
		}

		m, err := toJSONMap(v.Value)
		if err != nil {
			return jsonValue{}, err
		}

		return jsonValue{M: m}, nil
	default:
		return jsonValue{}, fmt.Errorf("unsupported attribute value type %T", av)
	}
}

func fromJSONMap(m map[string]jsonValue) (Item, error) {
	item := make(Item, len(m))

	for k, jv := range m {
		av, err := fromJSONValue(jv)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}

		item[k] = av
	}

	return item, nil
}

func fromJSONValue(jv jsonValue) (dynamodbtypes.AttributeValue, error) {
	switch {
	case jv.S != nil:
		return &dynamodbtypes.AttributeValueMemberS{Value: *jv.S}, nil
	case jv.N != nil:
		return &dynamodbtypes.AttributeValueMemberN{Value: *jv.N}, nil
	case jv.B != nil:
		return &dynamodbtypes.AttributeValueMemberB{Value: jv.B}, nil
	case jv.BOOL != nil:
		return &dynamodbtypes.AttributeValueMemberBOOL{Value: *jv.BOOL}, nil
	case jv.NULL:
		return &dynamodbtypes.AttributeValueMemberNULL{Value: true}, nil
	case jv.SS != nil:
		return &dynamodbtypes.AttributeValueMemberSS{Value: jv.SS}, nil
	case jv.NS != nil:
		return &dynamodbtypes.AttributeValueMemberNS{Value: jv.NS}, nil
	case jv.BS != nil:
		return &dynamodbtypes.AttributeValueMemberBS{Value: jv.BS}, nil
	case jv.EmptyL:
		return &dynamodbtypes.AttributeValueMemberL{Value: []dynamodbtypes.AttributeValue{}}, nil
	case jv.L != nil:
		l := make([]dynamodbtypes.AttributeValue, 0, len(jv.L))

		for _, e := range jv.L {
			av, err := fromJSONValue(e)
			if err != nil {
				return nil, err
			}

			l = append(l, av)
		}

		return &dynamodbtypes.AttributeValueMemberL{Value: l}, nil
	case jv.EmptyM:
		return &dynamodbtypes.AttributeValueMemberM{Value: map[string]dynamodbtypes.AttributeValue{}}, nil
	case jv.M != nil:
		m, err := fromJSONMap(jv.M)
		if err != nil {
			return nil, err
		}

		return &dynamodbtypes.AttributeValueMemberM{Value: m}, nil
	default:
		return nil, fmt.Errorf("attribute value has no type")
	}
}
