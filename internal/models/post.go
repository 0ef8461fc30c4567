package models

import "time"

// Post is a single piece of content inside a collection. The feed engine
// never mutates a post; engagement counters and the derived engagement score
// are maintained by the write path and consumed read-only here.
type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"authorId"`
	CollectionID string    `json:"collectionId"`
	Caption      string    `json:"caption,omitempty"`
	MediaURL     string    `json:"mediaUrl,omitempty"`
	LikeCount    int       `json:"likeCount"`
	CommentCount int       `json:"commentCount"`
	ViewCount    int       `json:"viewCount"`

	// EngagementScore is recomputed externally whenever the counters change.
	EngagementScore float64 `json:"engagementScore"`

	CreatedAt time.Time `json:"createdAt"`
	Deleted   bool      `json:"-"`
}

// CreatePostParams holds the fields needed to create a post
type CreatePostParams struct {
	AuthorID     string `json:"authorId"`
	CollectionID string `json:"collectionId"`
	Caption      string `json:"caption"`
	MediaURL     string `json:"mediaUrl"`
}
