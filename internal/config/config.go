package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Cache    CacheConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Auth     AuthConfig
	Feed     FeedConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr           string
	RefreshMinInterval time.Duration
}

// CacheConfig holds profile/follow-set cache configuration
type CacheConfig struct {
	Backend      string // "memory" or "redis"
	TTL          time.Duration
	RedisAddr    string
	EventChannel string // Redis pub/sub channel bridged onto the event bus
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// AuthConfig holds token validation configuration
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// FeedConfig holds feed aggregation tuning knobs
type FeedConfig struct {
	// InitialCollections bounds how many followed collections contribute
	// posts on first load; the remainder is deferred to pagination.
	InitialCollections int
	// InitialPerCollection caps each collection's contribution on first load.
	InitialPerCollection int
	// MorePerCollection caps each collection's contribution per pagination round.
	MorePerCollection int
	// RefreshPerCollection caps each collection's contribution on refresh.
	RefreshPerCollection int
	// PageSize is the display page size returned to clients.
	PageSize int
	// MaxRun bounds consecutive feed entries from the same author.
	MaxRun int
	// SessionIdleTTL evicts per-user feed sessions after this idle period.
	SessionIdleTTL time.Duration
}

// Load parses flags and environment variables to build configuration
func Load() *Config {
	cfg := &Config{}

	httpAddr := flag.String("http", ":8080", "HTTP server address")
	refreshMinInterval := flag.Duration("refresh-min-interval", 30*time.Second, "Minimum interval between manual feed refreshes per user")
	cacheTTL := flag.Duration("cache-ttl", 5*time.Minute, "Cache TTL for profiles and follow sets")
	cacheBackend := flag.String("cache-backend", "memory", "Cache backend: memory or redis")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis server address")
	eventChannel := flag.String("event-channel", "", "Redis pub/sub channel for social-graph events (empty disables the bridge)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	dbHost := flag.String("db-host", "localhost", "PostgreSQL host")
	dbPort := flag.Int("db-port", 5432, "PostgreSQL port")
	dbUser := flag.String("db-user", "postgres", "PostgreSQL user")
	dbPassword := flag.String("db-password", "postgres", "PostgreSQL password")
	dbName := flag.String("db-name", "coy", "PostgreSQL database name")
	dbSSLMode := flag.String("db-sslmode", "disable", "PostgreSQL SSL mode")

	flag.Parse()

	applyEnvOverrides(httpAddr, refreshMinInterval, cacheTTL, cacheBackend, redisAddr, eventChannel, logLevel, dbHost, dbPort, dbUser, dbPassword, dbName, dbSSLMode)

	cfg.Server = ServerConfig{
		HTTPAddr:           *httpAddr,
		RefreshMinInterval: *refreshMinInterval,
	}

	cfg.Cache = CacheConfig{
		Backend:      *cacheBackend,
		TTL:          *cacheTTL,
		RedisAddr:    *redisAddr,
		EventChannel: *eventChannel,
	}

	cfg.Database = DatabaseConfig{
		Host:     *dbHost,
		Port:     *dbPort,
		User:     *dbUser,
		Password: *dbPassword,
		Database: *dbName,
		SSLMode:  *dbSSLMode,
	}

	cfg.Logging = LoggingConfig{
		Level: *logLevel,
	}

	cfg.Auth = loadAuthConfig()
	cfg.Feed = loadFeedConfig()

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:   getEnvOrDefault("AUTH_JWT_SECRET", "change-me-in-production"),
		JWTIssuer:   getEnvOrDefault("AUTH_JWT_ISSUER", "coy"),
		JWTAudience: getEnvOrDefault("AUTH_JWT_AUDIENCE", "coy-users"),
	}
}

func loadFeedConfig() FeedConfig {
	cfg := FeedConfig{
		InitialCollections:   10,
		InitialPerCollection: 10,
		MorePerCollection:    3,
		RefreshPerCollection: 25,
		PageSize:             20,
		MaxRun:               2,
		SessionIdleTTL:       30 * time.Minute,
	}

	if v := envInt("FEED_INITIAL_COLLECTIONS"); v > 0 {
		cfg.InitialCollections = v
	}
	if v := envInt("FEED_INITIAL_PER_COLLECTION"); v > 0 {
		cfg.InitialPerCollection = v
	}
	if v := envInt("FEED_MORE_PER_COLLECTION"); v > 0 {
		cfg.MorePerCollection = v
	}
	if v := envInt("FEED_REFRESH_PER_COLLECTION"); v > 0 {
		cfg.RefreshPerCollection = v
	}
	if v := envInt("FEED_PAGE_SIZE"); v > 0 {
		cfg.PageSize = v
	}
	if v := envInt("FEED_MAX_RUN"); v > 0 {
		cfg.MaxRun = v
	}
	if v := os.Getenv("FEED_SESSION_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SessionIdleTTL = d
		}
	}

	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func applyEnvOverrides(
	httpAddr *string,
	refreshMinInterval *time.Duration,
	cacheTTL *time.Duration,
	cacheBackend *string,
	redisAddr *string,
	eventChannel *string,
	logLevel *string,
	dbHost *string,
	dbPort *int,
	dbUser *string,
	dbPassword *string,
	dbName *string,
	dbSSLMode *string,
) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		*httpAddr = v
	}
	if v := os.Getenv("REFRESH_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*refreshMinInterval = d
		}
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*cacheTTL = d
		}
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		*cacheBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		*redisAddr = v
	}
	if v := os.Getenv("EVENT_CHANNEL"); v != "" {
		*eventChannel = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		*logLevel = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		*dbHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			*dbPort = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		*dbUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		*dbPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		*dbName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		*dbSSLMode = v
	}
}
