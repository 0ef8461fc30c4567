package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Per-collection fetch failures never surface to callers as errors, so this
// counter is the only place they are visible in aggregate.
var (
	SourceFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coy_source_fetch_failures_total",
		Help: "Number of per-collection post fetches that failed and degraded to zero posts",
	})

	FeedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coy_feed_requests_total",
		Help: "Feed aggregation requests by operation",
	}, []string{"op"})

	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coy_feed_cache_invalidations_total",
		Help: "Feed cache invalidation actions by triggering event type",
	}, []string{"event"})

	CachePatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coy_feed_cache_patched_entries_total",
		Help: "Feed entries removed by narrow cache patches, by triggering event type",
	}, []string{"event"})
)

// Handler returns the Prometheus scrape endpoint handler
func Handler() http.Handler {
	return promhttp.Handler()
}
