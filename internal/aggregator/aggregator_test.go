package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coyapp/coy-server/internal/auth"
	"github.com/coyapp/coy-server/internal/cache"
	"github.com/coyapp/coy-server/internal/feedcache"
	"github.com/coyapp/coy-server/internal/models"
	"github.com/coyapp/coy-server/internal/ranking"
	"github.com/coyapp/coy-server/internal/sources"
	"github.com/coyapp/coy-server/internal/testutil"
)

type fakeFetcher struct {
	mu     sync.Mutex
	posts  map[string][]models.Post // collectionID -> posts, newest first
	fail   map[string]bool
	calls  map[string]int
	limits map[string]int // last limit seen per collection
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		posts:  make(map[string][]models.Post),
		fail:   make(map[string]bool),
		calls:  make(map[string]int),
		limits: make(map[string]int),
	}
}

func (f *fakeFetcher) FetchPosts(ctx context.Context, collectionID string, limit int, before time.Time) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[collectionID]++
	f.limits[collectionID] = limit

	if f.fail[collectionID] {
		return nil, fmt.Errorf("%w: collection %s", sources.ErrSourceUnavailable, collectionID)
	}

	var out []models.Post
	for _, p := range f.posts[collectionID] {
		if !before.IsZero() && !p.CreatedAt.Before(before) {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeFollows struct {
	collections []models.Collection
	err         error
	calls       int
}

func (f *fakeFollows) FollowedCollections(ctx context.Context, userID string) ([]models.Collection, error) {
	f.calls++
	return f.collections, f.err
}

type fakeProfiles struct {
	profile *models.Profile
	err     error
	calls   int
}

func (f *fakeProfiles) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	f.calls++
	return f.profile, f.err
}

type fixture struct {
	fetcher  *fakeFetcher
	follows  *fakeFollows
	profiles *fakeProfiles
	cache    *feedcache.Cache
	agg      *Aggregator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	fetcher := newFakeFetcher()
	follows := &fakeFollows{}
	profiles := &fakeProfiles{profile: &models.Profile{ID: "u1", Username: "ana"}}
	fc := feedcache.New("u1", testutil.NullLogger())

	snapshots := cache.NewMemory(time.Minute)
	t.Cleanup(snapshots.Stop)

	agg := New("u1", fc, Deps{
		Fetcher:   fetcher,
		Follows:   follows,
		Profiles:  profiles,
		Engine:    ranking.New(2, rand.New(rand.NewSource(7))),
		Snapshots: snapshots,
		Logger:    testutil.NullLogger(),
		Config:    cfg,
	})

	return &fixture{fetcher: fetcher, follows: follows, profiles: profiles, cache: fc, agg: agg}
}

func (fx *fixture) addCollection(id, ownerID string) models.Collection {
	c := models.Collection{ID: id, OwnerID: ownerID, Name: "c-" + id, Visibility: models.CollectionVisibilityPublic}
	fx.follows.collections = append(fx.follows.collections, c)
	return c
}

// addPosts seeds n posts in a collection, newest first, spaced one minute
// apart starting at base.
func (fx *fixture) addPosts(collectionID, authorID string, n int, base time.Time) []models.Post {
	posts := make([]models.Post, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, models.Post{
			ID:           fmt.Sprintf("%s-p%d", collectionID, i),
			AuthorID:     authorID,
			CollectionID: collectionID,
			CreatedAt:    base.Add(-time.Duration(i) * time.Minute),
		})
	}
	fx.fetcher.posts[collectionID] = posts
	return posts
}

func TestLoadInitial_RequiresUser(t *testing.T) {
	fx := newFixture(t, Config{})
	anon := New("", feedcache.New("", testutil.NullLogger()), fx.agg.deps)

	_, err := anon.LoadInitial(context.Background())
	assert.ErrorIs(t, err, auth.ErrAuthenticationRequired)

	_, err = anon.LoadMore(context.Background())
	assert.ErrorIs(t, err, auth.ErrAuthenticationRequired)

	_, err = anon.Refresh(context.Background())
	assert.ErrorIs(t, err, auth.ErrAuthenticationRequired)
}

func TestLoadInitial_TruncatesToPageSize(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 5, InitialPerCollection: 10})
	now := time.Now()
	fx.addCollection("cA", "owner1")
	fx.addCollection("cB", "owner2")
	fx.addPosts("cA", "a1", 10, now)
	fx.addPosts("cB", "a2", 10, now.Add(-30*time.Second))

	page, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	assert.Len(t, page.Entries, 5)
	assert.True(t, page.HasMore)
	assert.Equal(t, page.Entries[len(page.Entries)-1].Post.CreatedAt, page.NextCursor)
}

func TestLoadInitial_DedupAcrossSources(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 20})
	now := time.Now()
	fx.addCollection("cA", "owner1")
	fx.addCollection("cB", "owner2")
	fx.addPosts("cA", "a1", 3, now)
	// Same post IDs surfacing from a second collection.
	fx.fetcher.posts["cB"] = fx.fetcher.posts["cA"]

	page, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	assert.Len(t, page.Entries, 3)
	seen := map[string]bool{}
	for _, e := range page.Entries {
		assert.False(t, seen[e.Post.ID], "duplicate post %s", e.Post.ID)
		seen[e.Post.ID] = true
	}
}

func TestLoadInitial_CapsCollectionsAndLimit(t *testing.T) {
	fx := newFixture(t, Config{InitialCollections: 2, InitialPerCollection: 4, PageSize: 20})
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("c%d", i)
		fx.addCollection(id, "owner")
		fx.addPosts(id, "a", 10, now.Add(-time.Duration(i)*time.Second))
	}

	_, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	fetched := 0
	for id, n := range fx.fetcher.calls {
		fetched += n
		assert.Equal(t, 4, fx.fetcher.limits[id])
	}
	assert.Equal(t, 2, fetched, "only the first collections should be fetched")
}

func TestLoadInitial_PartialSourceFailure(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 20})
	now := time.Now()
	fx.addCollection("cA", "owner1")
	fx.addCollection("cB", "owner2")
	fx.addPosts("cA", "a1", 3, now)
	fx.addPosts("cB", "a2", 3, now)
	fx.fetcher.fail["cB"] = true

	page, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err, "one failed source must not fail the load")

	assert.Len(t, page.Entries, 3)
	for _, e := range page.Entries {
		assert.Equal(t, "cA", e.Collection.ID)
	}
}

func TestLoadInitial_AllSourcesFailing(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.addCollection("cA", "owner1")
	fx.fetcher.fail["cA"] = true

	page, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.False(t, page.HasMore)
}

func TestLoadInitial_AppliesVisibility(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 20})
	now := time.Now()
	fx.addCollection("cA", "owner1")
	fx.addCollection("cHidden", "owner2")
	fx.addCollection("cBlockedOwner", "badOwner")
	fx.addPosts("cA", "a1", 2, now)
	fx.fetcher.posts["cA"] = append(fx.fetcher.posts["cA"], models.Post{
		ID: "bad-post", AuthorID: "blockedAuthor", CollectionID: "cA", CreatedAt: now,
	})
	fx.addPosts("cHidden", "a3", 2, now)
	fx.addPosts("cBlockedOwner", "a4", 2, now)

	fx.profiles.profile.HiddenCollectionIDs = []string{"cHidden"}
	fx.profiles.profile.BlockedUserIDs = []string{"blockedAuthor", "badOwner"}

	page, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	assert.Len(t, page.Entries, 2)
	for _, e := range page.Entries {
		assert.Equal(t, "cA", e.Collection.ID)
		assert.NotEqual(t, "blockedAuthor", e.Post.AuthorID)
	}

	// Hidden and blocked-owner collections are never even fetched.
	assert.Zero(t, fx.fetcher.calls["cHidden"])
	assert.Zero(t, fx.fetcher.calls["cBlockedOwner"])
}

func TestLoadInitial_ServesFromCache(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 20})
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 5, time.Now())

	first, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	second, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Entries, second.Entries, "cached feed must not re-rank")
	assert.Equal(t, 1, fx.fetcher.calls["cA"], "cache hit must not refetch")
}

func TestLoadInitial_RebuildsWhenStale(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 20})
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 5, time.Now())

	_, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	fx.cache.MarkStale()
	fx.addCollection("cB", "owner2")
	fx.addPosts("cB", "a2", 2, time.Now())

	page, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	assert.Len(t, page.Entries, 7)
	assert.Equal(t, 2, fx.fetcher.calls["cA"])
	assert.False(t, fx.cache.Stale())
}

func TestLoadMore_ChronologicalAndDeduped(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 4, InitialPerCollection: 6, MorePerCollection: 10})
	now := time.Now()
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 12, now)

	first, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Entries, 4)
	require.True(t, first.HasMore)

	more, err := fx.agg.LoadMore(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, more.Entries)

	delivered := map[string]bool{}
	for _, e := range first.Entries {
		delivered[e.Post.ID] = true
	}
	for i, e := range more.Entries {
		assert.False(t, delivered[e.Post.ID], "post %s delivered twice", e.Post.ID)
		assert.True(t, e.Post.CreatedAt.Before(first.NextCursor), "continuation must be older than cursor")
		if i > 0 {
			prev := more.Entries[i-1].Post.CreatedAt
			assert.False(t, e.Post.CreatedAt.After(prev), "continuation must be newest-first")
		}
	}
}

func TestLoadMore_WithoutCacheFallsBackToInitial(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 20})
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 3, time.Now())

	page, err := fx.agg.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
}

func TestLoadMore_NoMoreContent(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 20})
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 3, time.Now())

	_, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	page, err := fx.agg.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.False(t, page.HasMore)
}

func TestLoadMore_HasMoreReflectsFullPage(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 3, InitialPerCollection: 5, MorePerCollection: 10})
	now := time.Now()
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 20, now)

	_, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	more, err := fx.agg.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Len(t, more.Entries, 3)
	assert.True(t, more.HasMore)
}

func TestRefresh_InvalidatesAndRebuilds(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 20, RefreshPerCollection: 25})
	now := time.Now()
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 5, now)

	_, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	// Block happens between load and refresh; the refresh must see it.
	fx.profiles.profile.BlockedUserIDs = []string{"a1"}

	page, err := fx.agg.Refresh(context.Background())
	require.NoError(t, err)

	assert.Empty(t, page.Entries, "refresh must not serve content from a now-blocked author")
	assert.Equal(t, 25, fx.fetcher.limits["cA"], "refresh uses the wider per-collection fetch")
}

func TestRefresh_SpansFullFollowedSet(t *testing.T) {
	fx := newFixture(t, Config{InitialCollections: 10, InitialPerCollection: 10, RefreshPerCollection: 25, PageSize: 20})
	now := time.Now()
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("c%d", i)
		fx.addCollection(id, "owner")
		fx.addPosts(id, "a", 2, now.Add(-time.Duration(i)*time.Second))
	}

	_, err := fx.agg.Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, fx.fetcher.calls, 15, "a refresh covers every followed collection, not just the freshest")
	for id, n := range fx.fetcher.calls {
		assert.Equal(t, 1, n, "collection %s", id)
		assert.Equal(t, 25, fx.fetcher.limits[id])
	}
}

func TestRefresh_StampsGeneration(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 2, time.Now())

	_, err := fx.agg.Refresh(context.Background())
	require.NoError(t, err)

	got, ok := fx.cache.Get()
	require.True(t, ok)
	assert.Equal(t, fx.agg.Generation(), got.Generation)
}

func TestRefresh_BumpsGeneration(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 2, time.Now())

	before := fx.agg.Generation()
	_, err := fx.agg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before+1, fx.agg.Generation())
}

func TestFollowSetSnapshotCached(t *testing.T) {
	fx := newFixture(t, Config{PageSize: 2, InitialPerCollection: 2})
	fx.addCollection("cA", "owner1")
	fx.addPosts("cA", "a1", 10, time.Now())

	_, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)
	_, err = fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)

	set, err := fx.agg.followSet(context.Background())
	require.NoError(t, err)
	assert.True(t, set.Follows("cA"))

	// Repeated loads serve the snapshot from cache.
	assert.Equal(t, 1, fx.follows.calls)
	assert.Equal(t, 1, fx.profiles.calls)
}

func TestFollowSetErrorPropagates(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.follows.err = errors.New("db down")

	_, err := fx.agg.LoadInitial(context.Background())
	assert.Error(t, err)
}

func TestScenario_BlockThenRefresh(t *testing.T) {
	// Load an interleaved feed from two authors, block one, confirm the
	// patched cache serves without the blocked author and the next refresh
	// rebuilds the same way.
	fx := newFixture(t, Config{PageSize: 20})
	now := time.Now()
	fx.addCollection("cA", "ownerA")
	fx.addCollection("cB", "ownerB")
	fx.addPosts("cA", "alice", 4, now)
	fx.addPosts("cB", "bob", 4, now.Add(-10*time.Second))

	first, err := fx.agg.LoadInitial(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Entries, 8)

	removed := fx.cache.PatchRemove(func(e models.FeedEntry) bool {
		return e.Post.AuthorID == "bob"
	})
	assert.Equal(t, 4, removed)

	entry, ok := fx.cache.Get()
	require.True(t, ok)
	for _, e := range entry.Entries {
		assert.NotEqual(t, "bob", e.Post.AuthorID)
	}

	fx.profiles.profile.BlockedUserIDs = []string{"bob"}
	page, err := fx.agg.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Entries, 4)
	for _, e := range page.Entries {
		assert.Equal(t, "alice", e.Post.AuthorID)
	}
}
