package sources

import (
	"context"
	"errors"
	"time"

	"github.com/coyapp/coy-server/internal/models"
)

// ErrSourceUnavailable marks a per-collection fetch failure. The aggregator
// treats it as "zero posts from this collection", never as a fatal error.
var ErrSourceUnavailable = errors.New("source unavailable")

// Fetcher retrieves a page of candidate posts for one collection, newest
// first. A zero `before` means no upper bound; otherwise only posts created
// strictly before it are returned. Deleted posts are always excluded.
type Fetcher interface {
	FetchPosts(ctx context.Context, collectionID string, limit int, before time.Time) ([]models.Post, error)
}

// FetchResult is one collection's contribution to a scatter-gather round
type FetchResult struct {
	Collection models.Collection
	Posts      []models.Post
	Err        error
}
