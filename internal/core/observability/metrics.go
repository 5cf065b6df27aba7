package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sourceLabel atomic.Value

func init() {
	sourceLabel.Store("demo")
}

// SetSource sets the point source label attached to request metrics.
func SetSource(s string) {
	if s == "" {
		s = "demo"
	}
	sourceLabel.Store(s)
}

func getSource() string {
	if v := sourceLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "demo"
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "source"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "source"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "source"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache results by outcome.",
		},
		[]string{"outcome", "source"},
	)
)

// Domain collectors. They always record; Init exposes them on a registry.
var (
	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of cache backend operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	priceEstimates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_estimates_total",
			Help: "Price estimates produced, by method and region.",
		},
		[]string{"method", "region"},
	)

	clusterIndexBuild = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cluster_index_build_seconds",
			Help:    "Time spent loading a cluster index.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	viewportPoints = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "viewport_points",
			Help:    "Points fetched per viewport query.",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000, 2500},
		},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Listing change events processed by outcome.",
		},
		[]string{"outcome"},
	)

	hotCells = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotness_tracked_cells",
			Help: "Viewport cells currently tracked for hotness.",
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Errors seen by the invalidation consumer.",
		},
		[]string{"stage"},
	)
)

var enabled atomic.Bool

// Init registers the service collectors on reg, in addition to the default
// registry the request metrics already live on. With on=false the collectors
// keep recording but are not exposed on reg.
func Init(reg prometheus.Registerer, on bool) {
	enabled.Store(on)
	if !on || reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds, cacheResults,
		cacheOpDuration, priceEstimates, clusterIndexBuild,
		viewportPoints, invalidationEvents, kafkaConsumerErrors, hotCells,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func Enabled() bool { return enabled.Load() }

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := getSource()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, s).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, s).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, getSource()).Observe(durationSeconds)
}

func AddCacheHits(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("hit", getSource()).Add(float64(n))
	}
}

func AddCacheMisses(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("miss", getSource()).Add(float64(n))
	}
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpDuration.WithLabelValues(op, res).Observe(durationSeconds)
}

func IncPriceEstimate(method, region string) {
	priceEstimates.WithLabelValues(method, region).Inc()
}

func ObserveClusterBuild(durationSeconds float64) {
	clusterIndexBuild.Observe(durationSeconds)
}

func ObserveViewportPoints(n int) {
	viewportPoints.Observe(float64(n))
}

// IncInvalidation records one processed event: "applied", "duplicate" or "invalid".
func IncInvalidation(outcome string) {
	invalidationEvents.WithLabelValues(outcome).Inc()
}

func SetHotCells(n int) {
	hotCells.Set(float64(n))
}

func IncKafkaError(stage string) {
	kafkaConsumerErrors.WithLabelValues(stage).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
