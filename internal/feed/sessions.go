// Package feed ties the per-user feed machinery together: a registry of live
// user sessions, each pairing a feed cache with its aggregator, kept coherent
// by a single event dispatch loop.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/coyapp/coy-server/internal/aggregator"
	"github.com/coyapp/coy-server/internal/events"
	"github.com/coyapp/coy-server/internal/feedcache"
	"github.com/coyapp/coy-server/internal/logging"
)

const evictInterval = time.Minute

// Session is one user's live feed state
type Session struct {
	Cache      *feedcache.Cache
	Aggregator *aggregator.Aggregator

	lastSeen time.Time
}

// Registry hands out per-user sessions and evicts them after an idle period.
// Sessions are created lazily on first feed access.
type Registry struct {
	deps    aggregator.Deps
	logger  *logging.Logger
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry
func NewRegistry(deps aggregator.Deps, idleTTL time.Duration, logger *logging.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Registry{
		deps:     deps,
		logger:   logger,
		idleTTL:  idleTTL,
		sessions: make(map[string]*Session),
	}
}

// Session returns the live session for userID, creating one on first access
func (r *Registry) Session(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		c := feedcache.New(userID, r.logger)
		s = &Session{
			Cache:      c,
			Aggregator: aggregator.New(userID, c, r.deps),
		}
		r.sessions[userID] = s
		r.logger.Debug("Created feed session", logging.WithField("user", userID))
	}
	s.lastSeen = time.Now()
	return s
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run consumes the event bus until ctx is done, applying each event to every
// live session cache and periodically evicting idle sessions. Exactly one
// dispatch loop runs per process.
func (r *Registry) Run(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe()
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.dispatch(evt)
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

// dispatch applies one event to every session. The cache's Apply decides
// per-user relevance; sessions whose cached snapshots are affected also drop
// them so the next load re-reads the stores.
func (r *Registry) dispatch(evt events.Event) {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.Cache.Apply(evt)
		if snapshotRelevant(evt, s.Cache.UserID()) {
			s.Aggregator.InvalidateSnapshots()
		}
	}
}

// snapshotRelevant reports whether evt changes the data behind userID's
// cached profile or follow-set snapshot.
func snapshotRelevant(evt events.Event, userID string) bool {
	if evt.UserID != userID {
		return false
	}
	switch evt.Type {
	case events.CollectionFollowed, events.CollectionUnfollowed,
		events.CollectionHidden, events.CollectionUnhidden,
		events.UserBlocked, events.UserUnblocked,
		events.ProfileUpdated:
		return true
	}
	return false
}

func (r *Registry) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.idleTTL)
	for userID, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(r.sessions, userID)
			r.logger.Debug("Evicted idle feed session", logging.WithField("user", userID))
		}
	}
}
