package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coyapp/coy-server/internal/auth"
	"github.com/coyapp/coy-server/internal/events"
	"github.com/coyapp/coy-server/internal/logging"
	"github.com/coyapp/coy-server/internal/models"
)

// PostCreator persists new posts
type PostCreator interface {
	CreatePost(ctx context.Context, params models.CreatePostParams) (*models.Post, error)
}

// PostAPI handles post creation. The write path proper lives elsewhere; this
// endpoint exists so new content can reach followers' live feeds through the
// post-created event.
type PostAPI struct {
	posts          PostCreator
	collections    FollowStore
	bus            Publisher
	authMiddleware *auth.Middleware
	logger         *logging.Logger
}

func NewPostAPI(posts PostCreator, collections FollowStore, bus Publisher, authMiddleware *auth.Middleware, logger *logging.Logger) *PostAPI {
	return &PostAPI{
		posts:          posts,
		collections:    collections,
		bus:            bus,
		authMiddleware: authMiddleware,
		logger:         logger,
	}
}

// RegisterRoutes registers post routes on the given mux
func (api *PostAPI) RegisterRoutes(mux *http.ServeMux, corsMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/api/collections/", corsMiddleware(api.authMiddleware.RequireAuth(api.handleCollectionPosts)))
}

// handleCollectionPosts handles POST /api/collections/{id}/posts
func (api *PostAPI) handleCollectionPosts(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/collections/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "posts" {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	collectionID := parts[0]

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Caption  string `json:"caption"`
		MediaURL string `json:"mediaUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	ctx := r.Context()
	userID := auth.GetUserID(ctx)

	collection, err := api.collections.GetByID(ctx, collectionID)
	if err != nil {
		api.logger.Error("Failed to load collection", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create post")
		return
	}
	if collection == nil {
		writeError(w, http.StatusNotFound, "not_found", "collection not found")
		return
	}

	post, err := api.posts.CreatePost(ctx, models.CreatePostParams{
		AuthorID:     userID,
		CollectionID: collectionID,
		Caption:      body.Caption,
		MediaURL:     body.MediaURL,
	})
	if err != nil {
		api.logger.Error("Failed to create post", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create post")
		return
	}

	api.bus.Publish(events.Event{
		Type:         events.PostCreated,
		UserID:       userID,
		CollectionID: collectionID,
		PostID:       post.ID,
	})

	writeJSON(w, http.StatusCreated, post)
}
