package config

import (
	"fmt"

	"github.com/marmos91/tenantfs/pkg/dircache"
	"github.com/marmos91/tenantfs/pkg/httpapi"
	"github.com/marmos91/tenantfs/pkg/metrics"
	"github.com/marmos91/tenantfs/pkg/store/s3"
)

// MetricsResult contains the metrics components created from configuration.
// Every collector is nil when metrics are disabled; the components fall
// back to no-op implementations.
type MetricsResult struct {
	// Server exposes /metrics (nil if disabled)
	Server *metrics.Server

	S3       s3.S3Metrics
	DirCache dircache.Observer
	HTTP     httpapi.RequestObserver
}

// InitializeMetrics creates the metrics components.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Address: fmt.Sprintf(":%d", cfg.Server.Metrics.Port),
		}),
		S3:       metrics.NewS3Metrics(),
		DirCache: metrics.NewDirCacheMetrics(),
		HTTP:     metrics.NewHTTPMetrics(),
	}
}
