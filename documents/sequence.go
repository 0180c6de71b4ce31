package documents

import (
	"context"
	"fmt"

	"github.com/docmgr/docstore/keys"
)

const attrSequenceValue = "value"

// NextSequence atomically reserves n consecutive numbers from the named
// counter of a document and returns the first. Numbers start at 0 and are
// never handed out twice, even to concurrent callers.
func (s *Service) NextSequence(ctx context.Context, site, documentID, name string, n int) (int64, error) {
	if n < 1 {
		return 0, fmt.Errorf("sequence block size must be positive, got %d", n)
	}

	doc, err := keys.Document(site, documentID)
	if err != nil {
		return 0, err
	}

	key, err := keys.Sequence(doc.PK, name)
	if err != nil {
		return 0, err
	}

	last, err := s.store.Increment(ctx, key, attrSequenceValue, int64(n))
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s of document %s: %w", name, documentID, err)
	}

	return last - int64(n), nil
}
