package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/coyapp/coy-server/internal/models"
)

// PostQuerier is the slice of the document store the fetcher needs
type PostQuerier interface {
	QueryPosts(ctx context.Context, collectionID string, limit int, before time.Time) ([]models.Post, error)
}

// StoreFetcher fetches candidate posts from the document store
type StoreFetcher struct {
	posts PostQuerier
}

// NewStoreFetcher creates a fetcher backed by the given store
func NewStoreFetcher(posts PostQuerier) *StoreFetcher {
	return &StoreFetcher{posts: posts}
}

func (f *StoreFetcher) FetchPosts(ctx context.Context, collectionID string, limit int, before time.Time) ([]models.Post, error) {
	posts, err := f.posts.QueryPosts(ctx, collectionID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %s: %v", ErrSourceUnavailable, collectionID, err)
	}
	return posts, nil
}

var _ Fetcher = (*StoreFetcher)(nil)
