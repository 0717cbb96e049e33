package metrics

import (
	"time"

	"github.com/marmos91/tenantfs/pkg/dircache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// dirCacheMetrics is the Prometheus implementation of dircache.Observer.
// Tenants are not used as a label to keep cardinality bounded.
type dirCacheMetrics struct {
	buildsTotal   *prometheus.CounterVec
	buildDuration prometheus.Histogram
	waitsTotal    *prometheus.CounterVec
	waitDuration  prometheus.Histogram
	lookupsTotal  *prometheus.CounterVec
}

// NewDirCacheMetrics returns directory cache metrics, or nil when metrics
// are disabled.
func NewDirCacheMetrics() dircache.Observer {
	if !IsEnabled() {
		return nil
	}
	return newDirCacheMetrics(GetRegistry())
}

func newDirCacheMetrics(reg prometheus.Registerer) *dirCacheMetrics {
	return &dirCacheMetrics{
		buildsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dircache_builds_total",
				Help:      "Total number of directory tree walks by status",
			},
			[]string{"status"},
		),
		buildDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dircache_build_duration_seconds",
				Help:      "Duration of directory tree walks in seconds",
				Buckets:   latencyBuckets,
			},
		),
		waitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dircache_waits_total",
				Help:      "Total number of callers that waited for a build in flight, by status",
			},
			[]string{"status"},
		),
		waitDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dircache_wait_duration_seconds",
				Help:      "Time spent waiting for a build in flight",
				Buckets:   latencyBuckets,
			},
		),
		lookupsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dircache_lookups_total",
				Help:      "Total number of cached directory lookups by result",
			},
			[]string{"result"},
		),
	}
}

func (m *dirCacheMetrics) ObserveBuild(_ string, duration time.Duration, err error) {
	m.buildsTotal.WithLabelValues(statusLabel(err)).Inc()
	m.buildDuration.Observe(duration.Seconds())
}

func (m *dirCacheMetrics) ObserveWait(_ string, duration time.Duration, err error) {
	m.waitsTotal.WithLabelValues(statusLabel(err)).Inc()
	m.waitDuration.Observe(duration.Seconds())
}

func (m *dirCacheMetrics) ObserveLookup(_ string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookupsTotal.WithLabelValues(result).Inc()
}
