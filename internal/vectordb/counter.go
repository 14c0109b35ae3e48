package vectordb

import (
	"context"
	"time"

	"github.com/Kocoro-lab/brandrag/internal/docstore"
)

// Counter reads vector counts for quota checks; it never writes
type Counter struct {
	docs docstore.Store
}

// NewCounter creates a counter over docs
func NewCounter(docs docstore.Store) *Counter {
	return &Counter{docs: docs}
}

// CountCreatedSince counts userID's vectors whose metadata.createdAt is at or after since
func (c *Counter) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	q := docstore.Query{}.Where(fieldMetadata+"."+metaCreatedAt, docstore.OpGreaterOrEqual, since)
	return c.docs.Count(ctx, CollectionFor(userID), q)
}
