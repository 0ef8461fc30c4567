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

// FollowStore persists follow relationships
type FollowStore interface {
	GetByID(ctx context.Context, collectionID string) (*models.Collection, error)
	Follow(ctx context.Context, userID, collectionID string) error
	Unfollow(ctx context.Context, userID, collectionID string) error
}

// ProfileStore persists profiles and block/hide relationships
type ProfileStore interface {
	Block(ctx context.Context, userID, blockedUserID string) error
	Unblock(ctx context.Context, userID, blockedUserID string) error
	Hide(ctx context.Context, userID, collectionID string) error
	Unhide(ctx context.Context, userID, collectionID string) error
	UpdateProfile(ctx context.Context, userID string, params models.UpdateProfileParams) (*models.Profile, error)
}

// SocialAPI handles the social mutations. Every successful mutation publishes
// its typed event so live feed sessions converge without polling.
type SocialAPI struct {
	follows        FollowStore
	profiles       ProfileStore
	bus            Publisher
	authMiddleware *auth.Middleware
	logger         *logging.Logger
}

func NewSocialAPI(follows FollowStore, profiles ProfileStore, bus Publisher, authMiddleware *auth.Middleware, logger *logging.Logger) *SocialAPI {
	return &SocialAPI{
		follows:        follows,
		profiles:       profiles,
		bus:            bus,
		authMiddleware: authMiddleware,
		logger:         logger,
	}
}

// RegisterRoutes registers social routes on the given mux
func (api *SocialAPI) RegisterRoutes(mux *http.ServeMux, corsMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/api/social/follow/", corsMiddleware(api.authMiddleware.RequireAuth(api.handleFollow)))
	mux.HandleFunc("/api/social/block/", corsMiddleware(api.authMiddleware.RequireAuth(api.handleBlock)))
	mux.HandleFunc("/api/social/hide/", corsMiddleware(api.authMiddleware.RequireAuth(api.handleHide)))
	mux.HandleFunc("/api/me/profile", corsMiddleware(api.authMiddleware.RequireAuth(api.handleProfile)))
}

// handleFollow handles POST/DELETE /api/social/follow/{collectionID}
func (api *SocialAPI) handleFollow(w http.ResponseWriter, r *http.Request) {
	collectionID := pathSuffix(r.URL.Path, "/api/social/follow/")
	if collectionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "collection ID required")
		return
	}

	userID := auth.GetUserID(r.Context())
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		collection, err := api.follows.GetByID(ctx, collectionID)
		if err != nil {
			api.logger.Error("Failed to load collection", logging.WithField("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to follow collection")
			return
		}
		if collection == nil {
			writeError(w, http.StatusNotFound, "not_found", "collection not found")
			return
		}
		if collection.Visibility == models.CollectionVisibilityPrivate && collection.OwnerID != userID {
			writeError(w, http.StatusForbidden, "private_collection", "cannot follow a private collection")
			return
		}
		if err := api.follows.Follow(ctx, userID, collectionID); err != nil {
			api.logger.Error("Failed to create follow", logging.WithField("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to follow collection")
			return
		}
		api.bus.Publish(events.Event{Type: events.CollectionFollowed, UserID: userID, CollectionID: collectionID})
		writeJSON(w, http.StatusOK, map[string]interface{}{"following": true})

	case http.MethodDelete:
		if err := api.follows.Unfollow(ctx, userID, collectionID); err != nil {
			api.logger.Error("Failed to remove follow", logging.WithField("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to unfollow collection")
			return
		}
		api.bus.Publish(events.Event{Type: events.CollectionUnfollowed, UserID: userID, CollectionID: collectionID})
		writeJSON(w, http.StatusOK, map[string]interface{}{"following": false})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleBlock handles POST/DELETE /api/social/block/{userID}
func (api *SocialAPI) handleBlock(w http.ResponseWriter, r *http.Request) {
	targetUserID := pathSuffix(r.URL.Path, "/api/social/block/")
	if targetUserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user ID required")
		return
	}

	userID := auth.GetUserID(r.Context())
	if targetUserID == userID {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot block yourself")
		return
	}

	switch r.Method {
	case http.MethodPost:
		if err := api.profiles.Block(r.Context(), userID, targetUserID); err != nil {
			api.logger.Error("Failed to block user", logging.WithField("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to block user")
			return
		}
		api.bus.Publish(events.Event{Type: events.UserBlocked, UserID: userID, TargetUserID: targetUserID})
		writeJSON(w, http.StatusOK, map[string]interface{}{"blocked": true})

	case http.MethodDelete:
		if err := api.profiles.Unblock(r.Context(), userID, targetUserID); err != nil {
			api.logger.Error("Failed to unblock user", logging.WithField("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to unblock user")
			return
		}
		api.bus.Publish(events.Event{Type: events.UserUnblocked, UserID: userID, TargetUserID: targetUserID})
		writeJSON(w, http.StatusOK, map[string]interface{}{"blocked": false})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHide handles POST/DELETE /api/social/hide/{collectionID}
func (api *SocialAPI) handleHide(w http.ResponseWriter, r *http.Request) {
	collectionID := pathSuffix(r.URL.Path, "/api/social/hide/")
	if collectionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "collection ID required")
		return
	}

	userID := auth.GetUserID(r.Context())

	switch r.Method {
	case http.MethodPost:
		if err := api.profiles.Hide(r.Context(), userID, collectionID); err != nil {
			api.logger.Error("Failed to hide collection", logging.WithField("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to hide collection")
			return
		}
		api.bus.Publish(events.Event{Type: events.CollectionHidden, UserID: userID, CollectionID: collectionID})
		writeJSON(w, http.StatusOK, map[string]interface{}{"hidden": true})

	case http.MethodDelete:
		if err := api.profiles.Unhide(r.Context(), userID, collectionID); err != nil {
			api.logger.Error("Failed to unhide collection", logging.WithField("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to unhide collection")
			return
		}
		api.bus.Publish(events.Event{Type: events.CollectionUnhidden, UserID: userID, CollectionID: collectionID})
		writeJSON(w, http.StatusOK, map[string]interface{}{"hidden": false})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProfile handles PATCH /api/me/profile
func (api *SocialAPI) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var params models.UpdateProfileParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	userID := auth.GetUserID(r.Context())
	profile, err := api.profiles.UpdateProfile(r.Context(), userID, params)
	if err != nil {
		api.logger.Error("Failed to update profile", logging.WithField("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update profile")
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}

	api.bus.Publish(events.Event{Type: events.ProfileUpdated, UserID: userID})
	writeJSON(w, http.StatusOK, profile)
}

func pathSuffix(path, prefix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
}
