package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metadataMetrics holds the collectors shared by every instrumented store.
type metadataMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

func newMetadataMetrics(reg prometheus.Registerer) *metadataMetrics {
	return &metadataMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_operations_total",
				Help:      "Total number of metadata operations by store type, operation, and status",
			},
			[]string{"store_type", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "metadata_operation_duration_seconds",
				Help:      "Duration of metadata operations in seconds",
				Buckets:   latencyBuckets,
			},
			[]string{"store_type", "operation"},
		),
	}
}

var (
	sharedMetadata     *metadataMetrics
	sharedMetadataOnce sync.Once
)

// InstrumentMetaStore wraps store so that every call is counted and timed.
// The store is returned unchanged when metrics are disabled or store is nil.
func InstrumentMetaStore(store meta.Store) meta.Store {
	if store == nil || !IsEnabled() {
		return store
	}
	sharedMetadataOnce.Do(func() {
		sharedMetadata = newMetadataMetrics(GetRegistry())
	})
	return instrument(store, sharedMetadata)
}

func instrument(store meta.Store, m *metadataMetrics) *instrumentedStore {
	return &instrumentedStore{inner: store, metrics: m, storeType: store.Name()}
}

// instrumentedStore decorates a meta.Store with metrics.
type instrumentedStore struct {
	inner     meta.Store
	metrics   *metadataMetrics
	storeType string
}

func (s *instrumentedStore) observe(operation string, start time.Time, err error) {
	s.metrics.operationsTotal.WithLabelValues(s.storeType, operation, statusLabel(err)).Inc()
	s.metrics.operationDuration.WithLabelValues(s.storeType, operation).Observe(time.Since(start).Seconds())
}

func (s *instrumentedStore) Name() string { return s.inner.Name() }

func (s *instrumentedStore) Load(ctx context.Context, tenant, rel string) (attrs meta.Attributes, ok bool, err error) {
	defer func(start time.Time) { s.observe("Load", start, err) }(time.Now())
	return s.inner.Load(ctx, tenant, rel)
}

func (s *instrumentedStore) Create(ctx context.Context, tenant, rel string, rec meta.Record) (attrs meta.Attributes, err error) {
	defer func(start time.Time) { s.observe("Create", start, err) }(time.Now())
	return s.inner.Create(ctx, tenant, rel, rec)
}

func (s *instrumentedStore) SetRole(ctx context.Context, tenant, rel string, role int) (err error) {
	defer func(start time.Time) { s.observe("SetRole", start, err) }(time.Now())
	return s.inner.SetRole(ctx, tenant, rel, role)
}

func (s *instrumentedStore) SetUser(ctx context.Context, tenant, rel string, userID *int) (err error) {
	defer func(start time.Time) { s.observe("SetUser", start, err) }(time.Now())
	return s.inner.SetUser(ctx, tenant, rel, userID)
}

func (s *instrumentedStore) Rename(ctx context.Context, tenant, oldRel, newRel string, isDir bool) (err error) {
	defer func(start time.Time) { s.observe("Rename", start, err) }(time.Now())
	return s.inner.Rename(ctx, tenant, oldRel, newRel, isDir)
}

func (s *instrumentedStore) Delete(ctx context.Context, tenant, rel string, isDir bool) (err error) {
	defer func(start time.Time) { s.observe("Delete", start, err) }(time.Now())
	return s.inner.Delete(ctx, tenant, rel, isDir)
}

// SetSize forwards to stores that track content sizes and is a no-op for
// the others.
func (s *instrumentedStore) SetSize(ctx context.Context, tenant, rel string, sizeKB int64) (err error) {
	sized, ok := s.inner.(interface {
		SetSize(ctx context.Context, tenant, rel string, sizeKB int64) error
	})
	if !ok {
		return nil
	}
	defer func(start time.Time) { s.observe("SetSize", start, err) }(time.Now())
	return sized.SetSize(ctx, tenant, rel, sizeKB)
}
