package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markpaste_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markpaste_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markpaste_paste_expired_total",
		Help: "no. of pastes found expired at read time",
	})
	PastesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markpaste_pastes_swept_total",
		Help: "no. of expired pastes removed by the cleaner",
	})
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markpaste_cache_hits_total",
			Help: "no. of cache hits",
		},
		[]string{"tier"},
	)
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markpaste_cache_misses_total",
		Help: "no. of lookups that reached the backend",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markpaste_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markpaste_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	AnalyticsEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markpaste_analytics_events_total",
			Help: "no. of analytics events recorded",
		},
		[]string{"kind"},
	)
	AnalyticsFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markpaste_analytics_failures_total",
		Help: "no. of analytics events dropped on error",
	})
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markpaste_events_published_total",
			Help: "no. of analytics events sent to the message bus",
		},
		[]string{"result"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markpaste_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "markpaste_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)

func Init() {
}
