package cache

import "time"

// Cache defines the interface for cache backends. The feed layer uses it for
// short-lived profile and follow-set snapshots, keyed per user.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	SetWithTTL(key string, value interface{}, ttl time.Duration)
	Delete(key string)
	Clear()
}
