// Package app wires the feed engine together: config, logging, storage,
// cache backend, event bus, session registry, and the HTTP server.
package app

import (
	"context"
	"math/rand"
	"time"

	"github.com/coyapp/coy-server/internal/aggregator"
	"github.com/coyapp/coy-server/internal/auth"
	"github.com/coyapp/coy-server/internal/cache"
	"github.com/coyapp/coy-server/internal/config"
	"github.com/coyapp/coy-server/internal/database"
	"github.com/coyapp/coy-server/internal/events"
	"github.com/coyapp/coy-server/internal/feed"
	"github.com/coyapp/coy-server/internal/httpapi"
	"github.com/coyapp/coy-server/internal/logging"
	"github.com/coyapp/coy-server/internal/ranking"
	"github.com/coyapp/coy-server/internal/ratelimit"
	"github.com/coyapp/coy-server/internal/sources"
)

// App holds all application dependencies
type App struct {
	Config         *config.Config
	Logger         *logging.Logger
	Cache          cache.Cache
	Bus            *events.Bus
	Registry       *feed.Registry
	AuthService    *auth.Service
	AuthMiddleware *auth.Middleware
	HTTPServer     *httpapi.Server

	db             *database.DB
	bridge         *events.RedisBridge
	refreshLimiter *ratelimit.Limiter
}

// New creates and initializes a new App instance
func New(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	app.Logger = app.initLogger()
	app.Cache = app.initCache()
	app.Bus = events.NewBus()

	db, err := database.New(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	app.db = db
	app.Logger.Info("Connected to PostgreSQL")

	app.AuthService = auth.NewService(cfg.Auth)
	app.AuthMiddleware = auth.NewMiddleware(app.AuthService)
	app.refreshLimiter = ratelimit.New(cfg.Server.RefreshMinInterval)

	postStore := database.NewPostStore(db)
	collectionStore := database.NewCollectionStore(db)
	profileStore := database.NewProfileStore(db)

	engine := ranking.New(cfg.Feed.MaxRun, rand.New(rand.NewSource(time.Now().UnixNano())))

	app.Registry = feed.NewRegistry(aggregator.Deps{
		Fetcher:   sources.NewStoreFetcher(postStore),
		Follows:   collectionStore,
		Profiles:  profileStore,
		Engine:    engine,
		Snapshots: app.Cache,
		Logger:    app.Logger,
		Config: aggregator.Config{
			InitialCollections:   cfg.Feed.InitialCollections,
			InitialPerCollection: cfg.Feed.InitialPerCollection,
			MorePerCollection:    cfg.Feed.MorePerCollection,
			RefreshPerCollection: cfg.Feed.RefreshPerCollection,
			PageSize:             cfg.Feed.PageSize,
		},
	}, cfg.Feed.SessionIdleTTL, app.Logger)

	app.HTTPServer = httpapi.New(
		app.Registry,
		collectionStore,
		profileStore,
		postStore,
		app.publisher(),
		app.AuthMiddleware,
		app.refreshLimiter,
		app.Logger,
	)

	return app, nil
}

// Run starts the dispatch loop, the optional Redis event bridge, and the
// HTTP server. It blocks until the server stops.
func (a *App) Run(ctx context.Context) error {
	go a.Registry.Run(ctx, a.Bus)

	if a.bridge != nil {
		go func() {
			if err := a.bridge.Run(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Error("Redis event bridge stopped", logging.WithField("error", err.Error()))
			}
		}()
	}

	a.Logger.Info("Starting HTTP server", logging.WithField("addr", a.Config.Server.HTTPAddr))
	return a.HTTPServer.Start(a.Config.Server.HTTPAddr)
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTP server shutdown error", logging.WithField("error", err.Error()))
		}
	}

	a.Bus.Close()

	if mc, ok := a.Cache.(*cache.MemoryCache); ok {
		mc.Stop()
	}
	if rc, ok := a.Cache.(*cache.RedisCache); ok {
		if err := rc.Close(); err != nil {
			a.Logger.Error("Redis close error", logging.WithField("error", err.Error()))
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error("Database close error", logging.WithField("error", err.Error()))
		}
	}

	return nil
}

func (a *App) initLogger() *logging.Logger {
	level := logging.LevelInfo
	switch a.Config.Logging.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.New(level)
}

func (a *App) initCache() cache.Cache {
	switch a.Config.Cache.Backend {
	case "redis":
		a.Logger.Info("Using Redis cache backend", logging.WithField("addr", a.Config.Cache.RedisAddr))
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Addr: a.Config.Cache.RedisAddr,
		}, a.Config.Cache.TTL)
		if err != nil {
			a.Logger.Error("Failed to connect to Redis, falling back to memory cache", logging.WithField("error", err.Error()))
			return cache.NewMemory(a.Config.Cache.TTL)
		}
		return redisCache
	default:
		a.Logger.Info("Using in-memory cache backend")
		return cache.NewMemory(a.Config.Cache.TTL)
	}
}

// publisher returns the event sink for the HTTP mutations. With a Redis cache
// backend and a configured channel, events also cross process boundaries
// through pub/sub; otherwise they stay on the in-process bus.
func (a *App) publisher() httpapi.Publisher {
	rc, ok := a.Cache.(*cache.RedisCache)
	if !ok || a.Config.Cache.EventChannel == "" {
		return a.Bus
	}

	a.bridge = events.NewRedisBridge(rc.Client(), a.Config.Cache.EventChannel, a.Bus, a.Logger)
	a.Logger.Info("Bridging events over Redis pub/sub", logging.WithField("channel", a.Config.Cache.EventChannel))
	return bridgePublisher{bridge: a.bridge, logger: a.Logger}
}

// bridgePublisher publishes through Redis so every process (this one
// included, via its subscription) sees the event exactly once.
type bridgePublisher struct {
	bridge *events.RedisBridge
	logger *logging.Logger
}

func (p bridgePublisher) Publish(evt events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.bridge.Publish(ctx, evt); err != nil {
		p.logger.Error("Failed to publish event", logging.WithField("error", err.Error()))
	}
}
