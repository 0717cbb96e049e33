// Package metrics provides Prometheus metrics for tenantfs components.
//
// All metrics are optional. Constructors return nil until InitRegistry has
// been called, and every component falls back to a no-op implementation
// when handed nil.
//
// Usage:
//
//	metrics.InitRegistry()
//	bucket, _ := s3.New(ctx, s3.Config{Metrics: metrics.NewS3Metrics()})
//	cache := dircache.New(walk, dircache.Options{Observer: metrics.NewDirCacheMetrics()})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tenantfs"

var (
	// registry is written once by InitRegistry and read afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// latencyBuckets cover local disk calls up to slow object-store requests.
var latencyBuckets = []float64{
	0.0005, // 500µs
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
	30.0,   // 30s
}
