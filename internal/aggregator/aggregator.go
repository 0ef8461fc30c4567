// Package aggregator builds a user's personalized feed: it fans out to the
// followed collections, filters the candidates against the user's block and
// hide relationships, ranks them, and keeps the result in the per-session
// feed cache.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coyapp/coy-server/internal/auth"
	"github.com/coyapp/coy-server/internal/cache"
	"github.com/coyapp/coy-server/internal/feedcache"
	"github.com/coyapp/coy-server/internal/logging"
	"github.com/coyapp/coy-server/internal/metrics"
	"github.com/coyapp/coy-server/internal/models"
	"github.com/coyapp/coy-server/internal/ranking"
	"github.com/coyapp/coy-server/internal/sources"
	"github.com/coyapp/coy-server/internal/visibility"
)

// ErrSuperseded reports that a pagination round straddled a refresh and its
// result was discarded. Callers should re-read the feed from the top.
var ErrSuperseded = feedcache.ErrSuperseded

// snapshotTTL bounds how long profile and follow-set snapshots are served
// from cache before being re-read from the stores.
const snapshotTTL = 5 * time.Minute

// FollowGraph lists the collections a user follows, most recently followed
// first.
type FollowGraph interface {
	FollowedCollections(ctx context.Context, userID string) ([]models.Collection, error)
}

// ProfileService loads the profile slice the feed needs: block and hide lists
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Config holds the aggregation fan-out and page-size knobs
type Config struct {
	// InitialCollections bounds how many followed collections contribute to
	// the first load. Refreshes always fan out across the full followed set.
	InitialCollections int
	// InitialPerCollection caps each collection's contribution on first load.
	InitialPerCollection int
	// MorePerCollection caps each collection's contribution per pagination round.
	MorePerCollection int
	// RefreshPerCollection caps each collection's contribution on refresh.
	RefreshPerCollection int
	// PageSize is the display page size returned to clients.
	PageSize int
}

func (c Config) withDefaults() Config {
	if c.InitialCollections <= 0 {
		c.InitialCollections = 10
	}
	if c.InitialPerCollection <= 0 {
		c.InitialPerCollection = 10
	}
	if c.MorePerCollection <= 0 {
		c.MorePerCollection = 3
	}
	if c.RefreshPerCollection <= 0 {
		c.RefreshPerCollection = 25
	}
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	return c
}

// Deps bundles the shared services an aggregator draws on. One Deps value is
// built at startup and reused for every user session.
type Deps struct {
	Fetcher   sources.Fetcher
	Follows   FollowGraph
	Profiles  ProfileService
	Engine    *ranking.Engine
	Snapshots cache.Cache
	Logger    *logging.Logger
	Config    Config
}

// Aggregator drives feed loads for one user session. It owns the session's
// refresh generation counter; the feed cache it fills is shared with the
// event dispatch loop.
type Aggregator struct {
	deps   Deps
	userID string
	cache  *feedcache.Cache

	// generation increments on every refresh; pagination rounds that started
	// under an older generation are discarded instead of appended.
	generation atomic.Int64
}

// New creates an aggregator for one user session
func New(userID string, feedCache *feedcache.Cache, deps Deps) *Aggregator {
	deps.Config = deps.Config.withDefaults()
	if deps.Logger == nil {
		deps.Logger = logging.New(logging.LevelError)
	}
	return &Aggregator{deps: deps, userID: userID, cache: feedCache}
}

// LoadInitial returns the first feed page. A cached feed built from the
// current follow set is served as-is; otherwise the feed is rebuilt from the
// sources.
func (a *Aggregator) LoadInitial(ctx context.Context) (models.FeedPage, error) {
	if a.userID == "" {
		return models.FeedPage{}, auth.ErrAuthenticationRequired
	}
	metrics.FeedRequests.WithLabelValues("initial").Inc()

	if a.cache.Stale() {
		// A follow changed; cached snapshots no longer describe the user.
		a.InvalidateSnapshots()
	}

	set, err := a.followSet(ctx)
	if err != nil {
		return models.FeedPage{}, err
	}

	if !a.cache.Stale() && a.cache.MatchesFollowSet(set.Fingerprint()) {
		if entry, ok := a.cache.Get(); ok {
			return models.FeedPage{
				Entries:    entry.Entries,
				NextCursor: entry.Cursor,
				HasMore:    entry.HasMore,
			}, nil
		}
	}

	return a.rebuild(ctx, set, false)
}

// LoadMore extends the feed past the current cursor. Continuation fetches are
// strictly chronological: ranking applies only within the initially loaded
// page, older content arrives newest-first.
func (a *Aggregator) LoadMore(ctx context.Context) (models.FeedPage, error) {
	if a.userID == "" {
		return models.FeedPage{}, auth.ErrAuthenticationRequired
	}
	metrics.FeedRequests.WithLabelValues("more").Inc()

	entry, ok := a.cache.Get()
	if !ok || a.cache.Stale() {
		return a.LoadInitial(ctx)
	}
	if !entry.HasMore {
		return models.FeedPage{Entries: []models.FeedEntry{}, NextCursor: entry.Cursor}, nil
	}

	// The continuation belongs to the generation the cached feed was built
	// under; Append re-checks it under the cache mutex.
	gen := entry.Generation

	cfg := a.deps.Config
	set := entry.FollowSet
	results := a.fanOut(ctx, a.eligibleCollections(&set), cfg.MorePerCollection, entry.Cursor)
	candidates := visibility.ApplyFollowSet(a.assemble(results), &set)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Post.CreatedAt.After(candidates[j].Post.CreatedAt)
	})

	delivered := a.cache.DeliveredIDs()
	page := make([]models.FeedEntry, 0, cfg.PageSize)
	for _, e := range candidates {
		if delivered[e.Post.ID] {
			continue
		}
		delivered[e.Post.ID] = true
		page = append(page, e)
		if len(page) == cfg.PageSize {
			break
		}
	}

	cursor := entry.Cursor
	if len(page) > 0 {
		cursor = page[len(page)-1].Post.CreatedAt
	}
	hasMore := len(page) >= cfg.PageSize

	if err := a.cache.Append(page, cursor, hasMore, gen); err != nil {
		if errors.Is(err, feedcache.ErrSuperseded) {
			return models.FeedPage{}, ErrSuperseded
		}
		a.deps.Logger.Warn("Feed cache append failed, rebuilding",
			logging.WithField("user", a.userID), logging.WithField("error", err.Error()))
		return a.LoadInitial(ctx)
	}

	return models.FeedPage{Entries: page, NextCursor: cursor, HasMore: hasMore}, nil
}

// Refresh discards all cached state for the session and rebuilds the feed
// from scratch with the wider per-collection fetch and refresh-mode ranking.
func (a *Aggregator) Refresh(ctx context.Context) (models.FeedPage, error) {
	if a.userID == "" {
		return models.FeedPage{}, auth.ErrAuthenticationRequired
	}
	metrics.FeedRequests.WithLabelValues("refresh").Inc()

	// Invalidate before fetching so a rebuild never mixes with pre-refresh
	// state, and bump the generation so in-flight pagination is discarded.
	a.generation.Add(1)
	a.cache.Invalidate()
	a.InvalidateSnapshots()

	set, err := a.followSet(ctx)
	if err != nil {
		return models.FeedPage{}, err
	}

	return a.rebuild(ctx, set, true)
}

// Generation returns the current refresh generation
func (a *Aggregator) Generation() int64 {
	return a.generation.Load()
}

// InvalidateSnapshots drops the cached profile and follow-set snapshots
func (a *Aggregator) InvalidateSnapshots() {
	a.deps.Snapshots.Delete(followSetKey(a.userID))
	a.deps.Snapshots.Delete(profileKey(a.userID))
}

func (a *Aggregator) rebuild(ctx context.Context, set models.FollowSet, isRefresh bool) (models.FeedPage, error) {
	cfg := a.deps.Config

	perCollection := cfg.InitialPerCollection
	if isRefresh {
		perCollection = cfg.RefreshPerCollection
	}

	// Refreshes span the whole followed set; only the first load is bounded
	// to the freshest collections.
	collections := a.eligibleCollections(&set)
	if !isRefresh && len(collections) > cfg.InitialCollections {
		collections = collections[:cfg.InitialCollections]
	}

	results := a.fanOut(ctx, collections, perCollection, time.Time{})
	candidates := visibility.ApplyFollowSet(a.assemble(results), &set)

	ranked := a.deps.Engine.Rank(candidates, time.Now(), isRefresh)

	hasMore := len(ranked) > cfg.PageSize
	if hasMore {
		ranked = ranked[:cfg.PageSize]
	}

	var cursor time.Time
	if len(ranked) > 0 {
		cursor = ranked[len(ranked)-1].Post.CreatedAt
	}

	if err := a.cache.Set(ranked, set, cursor, hasMore, a.generation.Load()); err != nil {
		// Dedup upstream makes this unreachable in practice; if it happens
		// the page is still correct, only caching is lost.
		a.deps.Logger.Warn("Feed cache rejected rebuilt page",
			logging.WithField("user", a.userID), logging.WithField("error", err.Error()))
	}

	return models.FeedPage{Entries: ranked, NextCursor: cursor, HasMore: hasMore}, nil
}

// fanOut fetches each collection concurrently. A failed collection degrades
// to zero posts; the round itself never fails.
func (a *Aggregator) fanOut(ctx context.Context, collections []models.Collection, limit int, before time.Time) []sources.FetchResult {
	if len(collections) == 0 {
		return nil
	}

	resultCh := make(chan sources.FetchResult, len(collections))
	var wg sync.WaitGroup

	for _, c := range collections {
		wg.Add(1)
		go func(c models.Collection) {
			defer wg.Done()
			posts, err := a.deps.Fetcher.FetchPosts(ctx, c.ID, limit, before)
			resultCh <- sources.FetchResult{Collection: c, Posts: posts, Err: err}
		}(c)
	}

	wg.Wait()
	close(resultCh)

	results := make([]sources.FetchResult, 0, len(collections))
	for r := range resultCh {
		if r.Err != nil {
			metrics.SourceFetchFailures.Inc()
			a.deps.Logger.Warn("Collection fetch failed", logging.WithFields(map[string]interface{}{
				"user":       a.userID,
				"collection": r.Collection.ID,
				"error":      r.Err.Error(),
			}))
			r.Posts = nil
		}
		results = append(results, r)
	}
	return results
}

// assemble flattens fetch results into feed entries, dropping duplicate post
// IDs.
func (a *Aggregator) assemble(results []sources.FetchResult) []models.FeedEntry {
	seen := make(map[string]bool)

	var entries []models.FeedEntry
	for _, r := range results {
		for _, p := range r.Posts {
			if p.Deleted || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			entries = append(entries, models.FeedEntry{Post: p, Collection: r.Collection})
		}
	}
	return entries
}

// eligibleCollections drops hidden collections and collections owned by
// blocked users before any fetch is issued.
func (a *Aggregator) eligibleCollections(set *models.FollowSet) []models.Collection {
	out := make([]models.Collection, 0, len(set.Collections))
	for _, c := range set.Collections {
		if set.HiddenCollectionIDs[c.ID] || set.BlockedUserIDs[c.OwnerID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// followSet assembles the user's follow-set snapshot, served from the
// snapshot cache when fresh.
func (a *Aggregator) followSet(ctx context.Context) (models.FollowSet, error) {
	if v, ok := a.deps.Snapshots.Get(followSetKey(a.userID)); ok {
		if set, ok := decodeFollowSet(v); ok {
			return set, nil
		}
	}

	collections, err := a.deps.Follows.FollowedCollections(ctx, a.userID)
	if err != nil {
		return models.FollowSet{}, fmt.Errorf("load followed collections: %w", err)
	}

	profile, err := a.profile(ctx)
	if err != nil {
		return models.FollowSet{}, err
	}

	set := models.FollowSet{
		Collections:         collections,
		HiddenCollectionIDs: models.IDSet(profile.HiddenCollectionIDs),
		BlockedUserIDs:      models.IDSet(profile.BlockedUserIDs),
	}

	a.deps.Snapshots.SetWithTTL(followSetKey(a.userID), set, snapshotTTL)
	return set, nil
}

func (a *Aggregator) profile(ctx context.Context) (*models.Profile, error) {
	if v, ok := a.deps.Snapshots.Get(profileKey(a.userID)); ok {
		if p, ok := decodeProfile(v); ok {
			return p, nil
		}
	}

	profile, err := a.deps.Profiles.GetProfile(ctx, a.userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("unknown user %s", a.userID)
	}

	a.deps.Snapshots.SetWithTTL(profileKey(a.userID), *profile, snapshotTTL)
	return profile, nil
}

func followSetKey(userID string) string { return "followset:" + userID }
func profileKey(userID string) string   { return "profile:" + userID }

// The Redis cache backend round-trips values through JSON, so a cached
// snapshot may come back as a generic map instead of its original type.
func decodeFollowSet(v interface{}) (models.FollowSet, bool) {
	if set, ok := v.(models.FollowSet); ok {
		return set, true
	}
	var set models.FollowSet
	if !remarshal(v, &set) {
		return models.FollowSet{}, false
	}
	return set, true
}

func decodeProfile(v interface{}) (*models.Profile, bool) {
	if p, ok := v.(models.Profile); ok {
		return &p, true
	}
	var p models.Profile
	if !remarshal(v, &p) {
		return nil, false
	}
	return &p, true
}

func remarshal(v interface{}, dst interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}
