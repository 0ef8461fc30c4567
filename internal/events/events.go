// Package events carries social-graph mutation events to the feed layer.
// The bus is in-process message passing; a Redis pub/sub bridge feeds it
// events raised by other processes.
package events

import "time"

// Type identifies a social-graph mutation
type Type string

const (
	CollectionFollowed   Type = "collection_followed"
	CollectionUnfollowed Type = "collection_unfollowed"
	CollectionHidden     Type = "collection_hidden"
	CollectionUnhidden   Type = "collection_unhidden"
	UserBlocked          Type = "user_blocked"
	UserUnblocked        Type = "user_unblocked"
	PostCreated          Type = "post_created"
	ProfileUpdated       Type = "profile_updated"
)

// Event is one social-graph mutation. UserID is the user whose social graph
// changed (and whose feed needs attention); TargetUserID carries the other
// party for block/unblock; CollectionID and PostID scope collection and post
// events.
type Event struct {
	Type         Type      `json:"type"`
	UserID       string    `json:"userId,omitempty"`
	TargetUserID string    `json:"targetUserId,omitempty"`
	CollectionID string    `json:"collectionId,omitempty"`
	PostID       string    `json:"postId,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}
