package models

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FeedEntry pairs a post with the collection it was fetched from. A post is
// only rankable and displayable alongside its source collection's metadata.
// Within any feed result, entries are unique by post ID.
type FeedEntry struct {
	Post       Post       `json:"post"`
	Collection Collection `json:"collection"`
}

// FollowSet is a snapshot of the collections a user follows plus the
// block/hide relationships derived from their profile. A cached feed is only
// valid relative to the FollowSet snapshot it was built from.
type FollowSet struct {
	Collections         []Collection
	HiddenCollectionIDs map[string]bool
	BlockedUserIDs      map[string]bool
}

// Follows reports whether the snapshot includes the given collection
func (s *FollowSet) Follows(collectionID string) bool {
	for _, c := range s.Collections {
		if c.ID == collectionID {
			return true
		}
	}
	return false
}

// WithoutCollection returns a copy of the snapshot with one collection removed
func (s *FollowSet) WithoutCollection(collectionID string) FollowSet {
	out := FollowSet{
		HiddenCollectionIDs: s.HiddenCollectionIDs,
		BlockedUserIDs:      s.BlockedUserIDs,
	}
	out.Collections = make([]Collection, 0, len(s.Collections))
	for _, c := range s.Collections {
		if c.ID != collectionID {
			out.Collections = append(out.Collections, c)
		}
	}
	return out
}

// Fingerprint returns a stable hash of the snapshot. Any change to the
// followed collections, hidden collections, or blocked users produces a
// different fingerprint.
func (s *FollowSet) Fingerprint() string {
	ids := make([]string, 0, len(s.Collections))
	for _, c := range s.Collections {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)

	hidden := sortedKeys(s.HiddenCollectionIDs)
	blocked := sortedKeys(s.BlockedUserIDs)

	h := sha256.New()
	h.Write([]byte("follows:" + strings.Join(ids, ",")))
	h.Write([]byte("|hidden:" + strings.Join(hidden, ",")))
	h.Write([]byte("|blocked:" + strings.Join(blocked, ",")))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IDSet converts a slice of identifiers into a membership set
func IDSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// FeedPage is one page of an aggregated feed plus the pagination state the
// client needs to request the next one.
type FeedPage struct {
	Entries    []FeedEntry `json:"entries"`
	NextCursor time.Time   `json:"nextCursor"`
	HasMore    bool        `json:"hasMore"`
}
