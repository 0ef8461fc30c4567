// Package visibility prunes feed entries against a user's block and hide
// relationships. Pure functions, no I/O.
package visibility

import "github.com/coyapp/coy-server/internal/models"

// Apply removes entries whose collection is hidden, whose author is blocked,
// or whose collection owner is blocked. The input slice is not mutated, and
// applying the same sets twice yields the same result.
func Apply(entries []models.FeedEntry, hiddenCollections, blockedUsers map[string]bool) []models.FeedEntry {
	out := make([]models.FeedEntry, 0, len(entries))
	for _, e := range entries {
		if hiddenCollections[e.Collection.ID] {
			continue
		}
		if blockedUsers[e.Post.AuthorID] {
			continue
		}
		if blockedUsers[e.Collection.OwnerID] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ApplyFollowSet is Apply with the sets taken from a follow-set snapshot
func ApplyFollowSet(entries []models.FeedEntry, set *models.FollowSet) []models.FeedEntry {
	return Apply(entries, set.HiddenCollectionIDs, set.BlockedUserIDs)
}
