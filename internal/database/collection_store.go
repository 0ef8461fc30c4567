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

// CollectionStore persists collections and follow relationships
type CollectionStore struct {
	db *DB
}

func NewCollectionStore(db *DB) *CollectionStore {
	return &CollectionStore{db: db}
}

// Create inserts a new collection owned by ownerID
func (s *CollectionStore) Create(ctx context.Context, ownerID, name string, visibility models.CollectionVisibility) (*models.Collection, error) {
	collection := models.Collection{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Name:       name,
		Visibility: visibility,
		CreatedAt:  time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, owner_id, name, visibility, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		collection.ID, collection.OwnerID, collection.Name, string(collection.Visibility), collection.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &collection, nil
}

// GetByID returns a collection, or nil when none exists
func (s *CollectionStore) GetByID(ctx context.Context, collectionID string) (*models.Collection, error) {
	var collection models.Collection
	var visibility string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, member_count, visibility, created_at
		FROM collections WHERE id = $1`,
		collectionID,
	).Scan(
		&collection.ID,
		&collection.OwnerID,
		&collection.Name,
		&collection.MemberCount,
		&visibility,
		&collection.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}

	collection.Visibility = models.CollectionVisibility(visibility)
	return &collection, nil
}

// FollowedCollections returns the collections a user follows, most recently
// followed first. This ordering decides which sources an initial feed load
// fans out to.
func (s *CollectionStore) FollowedCollections(ctx context.Context, userID string) ([]models.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.owner_id, c.name, c.member_count, c.visibility, c.created_at
		FROM follows f
		JOIN collections c ON c.id = f.collection_id
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query followed collections: %w", err)
	}
	defer rows.Close()

	var collections []models.Collection
	for rows.Next() {
		var collection models.Collection
		var visibility string
		err := rows.Scan(
			&collection.ID,
			&collection.OwnerID,
			&collection.Name,
			&collection.MemberCount,
			&visibility,
			&collection.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collection.Visibility = models.CollectionVisibility(visibility)
		collections = append(collections, collection)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}

	return collections, nil
}

// Follow records that userID follows collectionID. Following twice is a no-op.
func (s *CollectionStore) Follow(ctx context.Context, userID, collectionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follows (user_id, collection_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, collection_id) DO NOTHING`,
		userID, collectionID,
	)
	if err != nil {
		return fmt.Errorf("follow collection: %w", err)
	}
	return nil
}

// Unfollow removes a follow relationship. Unfollowing twice is a no-op.
func (s *CollectionStore) Unfollow(ctx context.Context, userID, collectionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM follows WHERE user_id = $1 AND collection_id = $2`,
		userID, collectionID,
	)
	if err != nil {
		return fmt.Errorf("unfollow collection: %w", err)
	}
	return nil
}
