package models

import "time"

// Profile is the slice of a user's account that the feed engine needs:
// identity display fields plus the block/hide relationships that scope
// feed visibility.
type Profile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// BlockedUserIDs are users this user has mutually blocked; posts authored
	// by them, and collections owned by them, never appear in the feed.
	BlockedUserIDs []string `json:"blockedUserIds"`

	// HiddenCollectionIDs are followed collections the user has muted.
	HiddenCollectionIDs []string `json:"hiddenCollectionIds"`
}

// UpdateProfileParams holds the mutable profile display fields
type UpdateProfileParams struct {
	DisplayName *string `json:"displayName,omitempty"`
	Username    *string `json:"username,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}
