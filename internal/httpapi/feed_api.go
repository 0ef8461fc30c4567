package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/coyapp/coy-server/internal/aggregator"
	"github.com/coyapp/coy-server/internal/auth"
	"github.com/coyapp/coy-server/internal/feed"
	"github.com/coyapp/coy-server/internal/logging"
	"github.com/coyapp/coy-server/internal/models"
	"github.com/coyapp/coy-server/internal/ratelimit"
)

// FeedAPI handles the personalized feed read endpoints
type FeedAPI struct {
	registry       *feed.Registry
	refreshLimiter *ratelimit.Limiter
	authMiddleware *auth.Middleware
	logger         *logging.Logger
}

func NewFeedAPI(registry *feed.Registry, refreshLimiter *ratelimit.Limiter, authMiddleware *auth.Middleware, logger *logging.Logger) *FeedAPI {
	return &FeedAPI{
		registry:       registry,
		refreshLimiter: refreshLimiter,
		authMiddleware: authMiddleware,
		logger:         logger,
	}
}

// RegisterRoutes registers feed routes on the given mux
func (api *FeedAPI) RegisterRoutes(mux *http.ServeMux, corsMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/api/feed", corsMiddleware(api.authMiddleware.RequireAuth(api.handleFeed)))
	mux.HandleFunc("/api/feed/refresh", corsMiddleware(api.authMiddleware.RequireAuth(api.handleRefresh)))
}

// handleFeed handles GET /api/feed. Without a cursor it returns the first
// page; with one it continues past it. The cursor is opaque to the handler,
// its presence just selects the continuation path.
func (api *FeedAPI) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := auth.GetUserID(r.Context())
	session := api.registry.Session(userID)

	var page models.FeedPage
	var err error
	if r.URL.Query().Get("cursor") == "" {
		page, err = session.Aggregator.LoadInitial(r.Context())
	} else {
		page, err = session.Aggregator.LoadMore(r.Context())
		if errors.Is(err, aggregator.ErrSuperseded) {
			// A refresh landed mid-request; serve the rebuilt feed instead.
			page, err = session.Aggregator.LoadInitial(r.Context())
		}
	}
	if err != nil {
		api.writeFeedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feedResponse(page))
}

// handleRefresh handles POST /api/feed/refresh, rate limited per user
func (api *FeedAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := auth.GetUserID(r.Context())
	if !api.refreshLimiter.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "refresh requested too soon")
		return
	}

	session := api.registry.Session(userID)
	page, err := session.Aggregator.Refresh(r.Context())
	if err != nil {
		api.writeFeedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feedResponse(page))
}

func (api *FeedAPI) writeFeedError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrAuthenticationRequired) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	api.logger.Error("Feed load failed", logging.WithField("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal_error", "failed to load feed")
}

func feedResponse(page models.FeedPage) map[string]interface{} {
	nextCursor := ""
	if !page.NextCursor.IsZero() {
		nextCursor = page.NextCursor.Format(time.RFC3339Nano)
	}
	return map[string]interface{}{
		"entries":    page.Entries,
		"nextCursor": nextCursor,
		"hasMore":    page.HasMore,
	}
}
