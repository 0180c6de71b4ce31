package store

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// EncodeCursor returns the opaque continuation token for a last evaluated
// key. A nil or empty key yields "".
func EncodeCursor(lastEvaluatedKey Item) string {
	if len(lastEvaluatedKey) == 0 {
		return ""
	}

	data, err := MarshalItemJSON(lastEvaluatedKey)
	if err != nil {
		// Last evaluated keys only hold key attributes, which always encode.
		return ""
	}

	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by [EncodeCursor]. An empty token
// yields (nil, nil).
func DecodeCursor(cursor string) (Item, error) {
	if cursor == "" {
		return nil, nil //nolint:nilnil
	}

	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}

	item, err := UnmarshalItemJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor data: %w", err)
	}

	if len(item) == 0 {
		return nil, errors.New("invalid cursor data: empty key")
	}

	return item, nil
}
