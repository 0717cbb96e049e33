// Package gc sweeps what interrupted or best-effort deletes leave behind on
// local tenants.
//
// Two kinds of orphans are collected:
//   - derivatives ("_resized_*<name>") whose source file no longer exists
//   - file rows whose location no longer exists on disk
//
// Object-store tenants are not swept.
package gc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/meta/sqlmeta"
	"github.com/marmos91/tenantfs/pkg/store/local"
)

// DefaultInterval is the time between background runs.
const DefaultInterval = 24 * time.Hour

// DefaultTimeout bounds a single background run.
const DefaultTimeout = 10 * time.Minute

// Rows is the part of the file table the collector needs.
type Rows interface {
	List(ctx context.Context, tenant, folder string) ([]sqlmeta.Row, error)
	Delete(ctx context.Context, tenant, rel string, isDir bool) error
}

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether Start runs the background worker.
	Enabled bool

	// Interval is how often to collect (default: 24h)
	Interval time.Duration

	// Timeout bounds one background run (default: 10m)
	Timeout time.Duration

	// DryRun logs orphans without deleting them.
	DryRun bool
}

// Collector periodically removes orphans of every configured tenant.
//
// Thread Safety: Safe for concurrent use. Runs started by RunNow and by the
// background worker may overlap; deleting an orphan twice is harmless.
type Collector struct {
	root    *local.Store
	rows    Rows
	tenants []string
	config  Config

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewCollector creates a collector over the tenants below root. rows may be
// nil when no database is configured.
func NewCollector(root *local.Store, rows Rows, tenants []string, config Config) (*Collector, error) {
	if root == nil {
		return nil, fmt.Errorf("garbage collection requires the local backend")
	}

	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	return &Collector{
		root:    root,
		rows:    rows,
		tenants: tenants,
		config:  config,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins background collection. It is a no-op when the collector is
// disabled or already started.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	c.startOnce.Do(func() {
		c.started.Store(true)
		logger.Info("Starting garbage collector: interval=%s dry_run=%v tenants=%v",
			c.config.Interval, c.config.DryRun, c.tenants)
		go c.worker()
	})
}

// Stop signals the worker and waits for the run in progress, if any.
func (c *Collector) Stop(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow collects every tenant once and blocks until done.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	for _, tenant := range c.tenants {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		store, err := c.root.Tenant(ctx, tenant)
		if err != nil {
			return stats, fmt.Errorf("failed to open tenant %q: %w", tenant, err)
		}
		if err := c.collectDerivatives(ctx, store, stats); err != nil {
			return stats, fmt.Errorf("tenant %q: failed to sweep derivatives: %w", tenant, err)
		}
		if c.rows != nil {
			if err := c.collectRows(ctx, tenant, store, stats); err != nil {
				return stats, fmt.Errorf("tenant %q: failed to sweep rows: %w", tenant, err)
			}
		}
		stats.Tenants++
	}

	return stats, nil
}

// collectDerivatives removes derivatives that no sibling file is a source
// of. The derivative "_resized_200x_a.png" belongs to "a.png" and to
// "_a.png" alike, so any sibling whose name ends the derivative's keeps it.
func (c *Collector) collectDerivatives(ctx context.Context, store *local.Store, stats *Stats) error {
	sources := make(map[string][]string)
	var derivatives []local.Entry

	err := store.ListDir(ctx, store.Root(), true, func(e local.Entry) error {
		if e.IsDir {
			return nil
		}
		if strings.HasPrefix(e.Name, local.DerivativePrefix) {
			derivatives = append(derivatives, e)
			return nil
		}
		dir := filepath.Dir(e.Path)
		sources[dir] = append(sources[dir], e.Name)
		return nil
	})
	if err != nil {
		return err
	}

	for _, d := range derivatives {
		rest := strings.TrimPrefix(d.Name, local.DerivativePrefix)
		if hasSource(rest, sources[filepath.Dir(d.Path)]) {
			continue
		}

		stats.OrphanedDerivatives++
		if c.config.DryRun {
			logger.Info("GC: DRY RUN - would delete derivative %s", d.Rel)
			continue
		}
		if err := store.Delete(ctx, d.Path); err != nil && !errors.Is(err, local.ErrNotFound) {
			logger.Debug("GC: Failed to delete %s: %v", d.Rel, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
	}
	return nil
}

func hasSource(rest string, names []string) bool {
	for _, name := range names {
		if strings.HasSuffix(rest, name) {
			return true
		}
	}
	return false
}

func (c *Collector) collectRows(ctx context.Context, tenant string, store *local.Store, stats *Stats) error {
	rows, err := c.rows.List(ctx, tenant, "")
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if abs, ok := store.Resolve(row.Location); ok && store.Exists(abs) {
			continue
		}

		stats.OrphanedRows++
		if c.config.DryRun {
			logger.Info("GC: DRY RUN - would delete row %d (%s)", row.ID, row.Location)
			continue
		}
		if err := c.rows.Delete(ctx, tenant, row.Location, false); err != nil {
			logger.Debug("GC: Failed to delete row %d: %v", row.ID, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
	}
	return nil
}

// Stats contains statistics from a collection run.
type Stats struct {
	StartTime           time.Time
	EndTime             time.Time
	Tenants             int
	OrphanedDerivatives int
	OrphanedRows        int
	DeletedCount        int
	FailedCount         int
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("tenants=%d derivatives=%d rows=%d deleted=%d failed=%d duration=%s",
		s.Tenants, s.OrphanedDerivatives, s.OrphanedRows,
		s.DeletedCount, s.FailedCount, s.Duration())
}
