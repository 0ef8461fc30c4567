package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coyapp/coy-server/internal/models"
)

// ProfileStore persists user profiles and the block/hide relationships that
// scope feed visibility.
type ProfileStore struct {
	db *DB
}

func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// CreateUser inserts a new user
func (s *ProfileStore) CreateUser(ctx context.Context, username, displayName string) (*models.Profile, error) {
	now := time.Now()
	profile := models.Profile{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		profile.ID, profile.Username, profile.DisplayName, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &profile, nil
}

// GetProfile returns a user's profile with block and hide lists loaded, or
// nil when the user does not exist.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	var avatarURL sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar_url, created_at, updated_at
		FROM users WHERE id = $1`,
		userID,
	).Scan(
		&profile.ID,
		&profile.Username,
		&profile.DisplayName,
		&avatarURL,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	profile.AvatarURL = avatarURL.String

	profile.BlockedUserIDs, err = s.idList(ctx,
		`SELECT blocked_user_id FROM blocked_users WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("get blocked users: %w", err)
	}

	profile.HiddenCollectionIDs, err = s.idList(ctx,
		`SELECT collection_id FROM hidden_collections WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("get hidden collections: %w", err)
	}

	return &profile, nil
}

// UpdateProfile applies any non-nil fields and returns the updated profile
func (s *ProfileStore) UpdateProfile(ctx context.Context, userID string, params models.UpdateProfileParams) (*models.Profile, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			username = COALESCE($2, username),
			display_name = COALESCE($3, display_name),
			avatar_url = COALESCE($4, avatar_url),
			updated_at = NOW()
		WHERE id = $1`,
		userID, params.Username, params.DisplayName, params.AvatarURL,
	)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	return s.GetProfile(ctx, userID)
}

// Block records that userID has blocked blockedUserID
func (s *ProfileStore) Block(ctx context.Context, userID, blockedUserID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_users (user_id, blocked_user_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, blocked_user_id) DO NOTHING`,
		userID, blockedUserID,
	)
	if err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	return nil
}

// Unblock removes a block relationship
func (s *ProfileStore) Unblock(ctx context.Context, userID, blockedUserID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM blocked_users WHERE user_id = $1 AND blocked_user_id = $2`,
		userID, blockedUserID,
	)
	if err != nil {
		return fmt.Errorf("unblock user: %w", err)
	}
	return nil
}

// Hide mutes a followed collection for userID
func (s *ProfileStore) Hide(ctx context.Context, userID, collectionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hidden_collections (user_id, collection_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, collection_id) DO NOTHING`,
		userID, collectionID,
	)
	if err != nil {
		return fmt.Errorf("hide collection: %w", err)
	}
	return nil
}

// Unhide unmutes a collection
func (s *ProfileStore) Unhide(ctx context.Context, userID, collectionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM hidden_collections WHERE user_id = $1 AND collection_id = $2`,
		userID, collectionID,
	)
	if err != nil {
		return fmt.Errorf("unhide collection: %w", err)
	}
	return nil
}

func (s *ProfileStore) idList(ctx context.Context, query, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
