// Package httpapi exposes the feed engine over HTTP: feed reads, the social
// mutations that drive cache coherency, and operational endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coyapp/coy-server/internal/auth"
	"github.com/coyapp/coy-server/internal/events"
	"github.com/coyapp/coy-server/internal/feed"
	"github.com/coyapp/coy-server/internal/logging"
	"github.com/coyapp/coy-server/internal/metrics"
	"github.com/coyapp/coy-server/internal/ratelimit"
)

// Publisher puts social-graph events onto the bus
type Publisher interface {
	Publish(evt events.Event)
}

type Server struct {
	registry       *feed.Registry
	follows        FollowStore
	profiles       ProfileStore
	posts          PostCreator
	bus            Publisher
	authMiddleware *auth.Middleware
	refreshLimiter *ratelimit.Limiter
	logger         *logging.Logger
	server         *http.Server
}

func New(registry *feed.Registry, follows FollowStore, profiles ProfileStore, posts PostCreator, bus Publisher, authMiddleware *auth.Middleware, refreshLimiter *ratelimit.Limiter, logger *logging.Logger) *Server {
	return &Server{
		registry:       registry,
		follows:        follows,
		profiles:       profiles,
		posts:          posts,
		bus:            bus,
		authMiddleware: authMiddleware,
		refreshLimiter: refreshLimiter,
		logger:         logger,
	}
}

// Handler builds the route mux. Exposed separately from Start so tests can
// drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	feedAPI := NewFeedAPI(s.registry, s.refreshLimiter, s.authMiddleware, s.logger)
	feedAPI.RegisterRoutes(mux, s.corsMiddleware)

	socialAPI := NewSocialAPI(s.follows, s.profiles, s.bus, s.authMiddleware, s.logger)
	socialAPI.RegisterRoutes(mux, s.corsMiddleware)

	postAPI := NewPostAPI(s.posts, s.follows, s.bus, s.authMiddleware, s.logger)
	postAPI.RegisterRoutes(mux, s.corsMiddleware)

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info("HTTP API server starting", logging.WithField("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
