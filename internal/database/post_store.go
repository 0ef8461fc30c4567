package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coyapp/coy-server/internal/models"
)

// PostStore persists posts in Postgres. It is the document-store side of the
// feed engine's source-fetch contract: newest first, deleted excluded, with a
// strict created-before range filter for pagination.
type PostStore struct {
	db *DB
}

func NewPostStore(db *DB) *PostStore {
	return &PostStore{db: db}
}

// QueryPosts returns up to limit non-deleted posts from a collection, newest
// first. A non-zero before restricts results to posts created strictly
// earlier.
func (s *PostStore) QueryPosts(ctx context.Context, collectionID string, limit int, before time.Time) ([]models.Post, error) {
	query := `
		SELECT id, author_id, collection_id, caption, media_url,
		       like_count, comment_count, view_count, engagement_score, created_at
		FROM posts
		WHERE collection_id = $1 AND NOT deleted`
	args := []interface{}{collectionID}

	if !before.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", len(args)+1)
		args = append(args, before)
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	return posts, nil
}

// CreatePost inserts a new post
func (s *PostStore) CreatePost(ctx context.Context, params models.CreatePostParams) (*models.Post, error) {
	post := models.Post{
		ID:           uuid.NewString(),
		AuthorID:     params.AuthorID,
		CollectionID: params.CollectionID,
		Caption:      params.Caption,
		MediaURL:     params.MediaURL,
		CreatedAt:    time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, collection_id, caption, media_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		post.ID, post.AuthorID, post.CollectionID,
		nullString(post.Caption), nullString(post.MediaURL), post.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	return &post, nil
}

// SetEngagement updates a post's counters and its externally computed
// engagement score.
func (s *PostStore) SetEngagement(ctx context.Context, postID string, likes, comments, views int, score float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET like_count = $2, comment_count = $3, view_count = $4, engagement_score = $5
		WHERE id = $1 AND NOT deleted`,
		postID, likes, comments, views, score,
	)
	if err != nil {
		return fmt.Errorf("set engagement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("post not found")
	}
	return nil
}

// DeletePost soft-deletes a post so it stops appearing in feeds
func (s *PostStore) DeletePost(ctx context.Context, postID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET deleted = TRUE WHERE id = $1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("post not found")
	}
	return nil
}

func scanPost(rows *sql.Rows) (models.Post, error) {
	var post models.Post
	var caption, mediaURL sql.NullString

	err := rows.Scan(
		&post.ID,
		&post.AuthorID,
		&post.CollectionID,
		&caption,
		&mediaURL,
		&post.LikeCount,
		&post.CommentCount,
		&post.ViewCount,
		&post.EngagementScore,
		&post.CreatedAt,
	)
	if err != nil {
		return models.Post{}, err
	}

	post.Caption = caption.String
	post.MediaURL = mediaURL.String
	return post, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
