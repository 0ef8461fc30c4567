package models

import "time"

// CollectionVisibility represents who can see a collection
type CollectionVisibility string

const (
	CollectionVisibilityPublic  CollectionVisibility = "public"
	CollectionVisibilityPrivate CollectionVisibility = "private"
)

// Collection is a named container of posts with an owner. Users follow
// collections; the feed is built from the collections a user follows.
type Collection struct {
	ID          string               `json:"id"`
	OwnerID     string               `json:"ownerId"`
	Name        string               `json:"name"`
	MemberCount int                  `json:"memberCount"`
	Visibility  CollectionVisibility `json:"visibility"`
	CreatedAt   time.Time            `json:"createdAt"`
}
