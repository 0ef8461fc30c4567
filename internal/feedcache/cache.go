// Package feedcache holds the last computed feed for one user session and
// keeps it coherent under social-graph events: narrow invalidations patch the
// entry list in place, broad ones reset it.
package feedcache

import (
	"errors"
	"sync"
	"time"

	"github.com/coyapp/coy-server/internal/events"
	"github.com/coyapp/coy-server/internal/logging"
	"github.com/coyapp/coy-server/internal/metrics"
	"github.com/coyapp/coy-server/internal/models"
)

// ErrCacheCorrupt reports a violated internal invariant (a duplicate post ID
// surviving dedup). It is an invalidation trigger, never a crash.
var ErrCacheCorrupt = errors.New("feed cache corrupt")

// ErrSuperseded reports that an append was built against an older refresh
// generation than the cached feed and was rejected.
var ErrSuperseded = errors.New("feed append superseded by newer generation")

// Entry is the cached state: the ordered feed, the follow-set snapshot it was
// built from, the pagination cursor (creation timestamp of the last
// delivered entry), and the refresh generation the feed was built under.
type Entry struct {
	Entries     []models.FeedEntry
	FollowSet   models.FollowSet
	Fingerprint string
	Cursor      time.Time
	HasMore     bool
	LoadedAt    time.Time
	Generation  int64
}

// Cache is the per-user-session feed cache. All mutation goes through the
// mutex; the event dispatch loop and the HTTP path can therefore interleave
// without corrupting the entry list.
type Cache struct {
	mu     sync.Mutex
	userID string
	logger *logging.Logger

	loaded bool
	stale  bool
	entry  Entry
}

// New creates an uninitialized cache for one user
func New(userID string, logger *logging.Logger) *Cache {
	return &Cache{userID: userID, logger: logger}
}

// UserID returns the owning user
func (c *Cache) UserID() string {
	return c.userID
}

// Get returns the cached entry, or false if uninitialized. Callers must
// treat the returned entry as read-only.
func (c *Cache) Get() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return Entry{}, false
	}
	return c.entry, true
}

// Stale reports whether the cache was marked stale by a follow event
func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// MarkStale flags the cache so the next read recomputes from scratch while
// keeping the current entries readable until then.
func (c *Cache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}

// Set replaces the cached feed wholesale, stamping it with the refresh
// generation it was built under. If the entries violate the post-ID
// uniqueness invariant the cache resets and ErrCacheCorrupt is returned.
func (c *Cache) Set(entries []models.FeedEntry, set models.FollowSet, cursor time.Time, hasMore bool, generation int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hasDuplicate(entries) {
		c.invalidateLocked()
		return ErrCacheCorrupt
	}

	c.entry = Entry{
		Entries:     entries,
		FollowSet:   set,
		Fingerprint: set.Fingerprint(),
		Cursor:      cursor,
		HasMore:     hasMore,
		LoadedAt:    time.Now(),
		Generation:  generation,
	}
	c.loaded = true
	c.stale = false
	return nil
}

// Append extends the cached feed with a paginated continuation. The
// generation check happens under the mutex, so a continuation built before a
// refresh can never land on the rebuilt feed: it returns ErrSuperseded
// instead. An appended post ID that already exists in the cache violates the
// dedup invariant: the cache resets and ErrCacheCorrupt is returned.
func (c *Cache) Append(entries []models.FeedEntry, cursor time.Time, hasMore bool, generation int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return nil
	}
	if c.entry.Generation != generation {
		return ErrSuperseded
	}

	seen := make(map[string]bool, len(c.entry.Entries)+len(entries))
	for _, e := range c.entry.Entries {
		seen[e.Post.ID] = true
	}
	for _, e := range entries {
		if seen[e.Post.ID] {
			c.invalidateLocked()
			return ErrCacheCorrupt
		}
		seen[e.Post.ID] = true
	}

	c.entry.Entries = append(c.entry.Entries, entries...)
	c.entry.Cursor = cursor
	c.entry.HasMore = hasMore
	return nil
}

// MatchesFollowSet reports whether the cached feed was built from the given
// follow-set fingerprint.
func (c *Cache) MatchesFollowSet(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded && c.entry.Fingerprint == fingerprint
}

// DeliveredIDs returns the post IDs already present in the cached feed
func (c *Cache) DeliveredIDs() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make(map[string]bool, len(c.entry.Entries))
	if !c.loaded {
		return ids
	}
	for _, e := range c.entry.Entries {
		ids[e.Post.ID] = true
	}
	return ids
}

// PatchRemove drops entries matching the predicate without discarding the
// rest of the cache. Returns the number removed.
func (c *Cache) PatchRemove(pred func(models.FeedEntry) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.patchRemoveLocked(pred)
}

// Invalidate resets the cache to uninitialized
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

// Apply reacts to one social-graph event per the invalidation policy.
// Events concerning other users are ignored; post-created events consult the
// cached follow-set snapshot for relevance.
func (c *Cache) Apply(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case events.CollectionFollowed:
		if evt.UserID != c.userID {
			return
		}
		c.stale = true
		metrics.CacheInvalidations.WithLabelValues(string(evt.Type)).Inc()

	case events.CollectionUnfollowed:
		if evt.UserID != c.userID || !c.loaded {
			return
		}
		removed := c.patchRemoveLocked(func(e models.FeedEntry) bool {
			return e.Collection.ID == evt.CollectionID
		})
		// Keep the snapshot consistent with the patch so the fingerprint
		// still matches and the remaining feed stays servable.
		c.entry.FollowSet = c.entry.FollowSet.WithoutCollection(evt.CollectionID)
		c.entry.Fingerprint = c.entry.FollowSet.Fingerprint()
		metrics.CachePatches.WithLabelValues(string(evt.Type)).Add(float64(removed))

	case events.CollectionHidden:
		if evt.UserID != c.userID {
			return
		}
		removed := c.patchRemoveLocked(func(e models.FeedEntry) bool {
			return e.Collection.ID == evt.CollectionID
		})
		metrics.CachePatches.WithLabelValues(string(evt.Type)).Add(float64(removed))
		c.invalidateLocked()
		metrics.CacheInvalidations.WithLabelValues(string(evt.Type)).Inc()

	case events.CollectionUnhidden:
		// Unhidden content has unknown rank; a full reload is the only safe
		// way to place it.
		if evt.UserID != c.userID {
			return
		}
		c.invalidateLocked()
		metrics.CacheInvalidations.WithLabelValues(string(evt.Type)).Inc()

	case events.UserBlocked:
		if evt.UserID != c.userID {
			return
		}
		removed := c.patchRemoveLocked(func(e models.FeedEntry) bool {
			return e.Post.AuthorID == evt.TargetUserID || e.Collection.OwnerID == evt.TargetUserID
		})
		metrics.CachePatches.WithLabelValues(string(evt.Type)).Add(float64(removed))
		c.invalidateLocked()
		metrics.CacheInvalidations.WithLabelValues(string(evt.Type)).Inc()

	case events.UserUnblocked:
		if evt.UserID != c.userID {
			return
		}
		c.invalidateLocked()
		metrics.CacheInvalidations.WithLabelValues(string(evt.Type)).Inc()

	case events.PostCreated:
		if !c.loaded || !c.entry.FollowSet.Follows(evt.CollectionID) {
			return
		}
		c.invalidateLocked()
		metrics.CacheInvalidations.WithLabelValues(string(evt.Type)).Inc()

	case events.ProfileUpdated:
		if evt.UserID != c.userID {
			return
		}
		c.invalidateLocked()
		metrics.CacheInvalidations.WithLabelValues(string(evt.Type)).Inc()
	}
}

func (c *Cache) patchRemoveLocked(pred func(models.FeedEntry) bool) int {
	if !c.loaded {
		return 0
	}

	// Fresh backing array: slices handed out by Get must not see the patch.
	kept := make([]models.FeedEntry, 0, len(c.entry.Entries))
	removed := 0
	for _, e := range c.entry.Entries {
		if pred(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	c.entry.Entries = kept

	if removed > 0 && c.logger != nil {
		c.logger.Debug("Patched feed cache", logging.WithFields(map[string]interface{}{
			"user":    c.userID,
			"removed": removed,
		}))
	}
	return removed
}

func (c *Cache) invalidateLocked() {
	c.loaded = false
	c.stale = false
	c.entry = Entry{}
}

func hasDuplicate(entries []models.FeedEntry) bool {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Post.ID] {
			return true
		}
		seen[e.Post.ID] = true
	}
	return false
}
