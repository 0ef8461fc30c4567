package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coyapp/coy-server/internal/models"
)

type fakeQuerier struct {
	posts []models.Post
	err   error

	gotCollection string
	gotLimit      int
	gotBefore     time.Time
}

func (q *fakeQuerier) QueryPosts(_ context.Context, collectionID string, limit int, before time.Time) ([]models.Post, error) {
	q.gotCollection = collectionID
	q.gotLimit = limit
	q.gotBefore = before
	return q.posts, q.err
}

func TestStoreFetcher_PassesQueryThrough(t *testing.T) {
	q := &fakeQuerier{posts: []models.Post{{ID: "p1"}}}
	f := NewStoreFetcher(q)

	cursor := time.Now()
	posts, err := f.FetchPosts(context.Background(), "c1", 10, cursor)
	if err != nil {
		t.Fatalf("FetchPosts() error = %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "p1" {
		t.Errorf("unexpected posts: %v", posts)
	}
	if q.gotCollection != "c1" || q.gotLimit != 10 || !q.gotBefore.Equal(cursor) {
		t.Errorf("query args = (%q, %d, %v), want (c1, 10, %v)", q.gotCollection, q.gotLimit, q.gotBefore, cursor)
	}
}

func TestStoreFetcher_WrapsErrorAsSourceUnavailable(t *testing.T) {
	q := &fakeQuerier{err: errors.New("connection refused")}
	f := NewStoreFetcher(q)

	_, err := f.FetchPosts(context.Background(), "c1", 10, time.Time{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("error %v should wrap ErrSourceUnavailable", err)
	}
}
