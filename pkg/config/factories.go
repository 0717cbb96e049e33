package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/internal/ratelimiter"
	"github.com/marmos91/tenantfs/pkg/dircache"
	"github.com/marmos91/tenantfs/pkg/files"
	"github.com/marmos91/tenantfs/pkg/gc"
	"github.com/marmos91/tenantfs/pkg/httpapi"
	"github.com/marmos91/tenantfs/pkg/meta/sqlmeta"
	"github.com/marmos91/tenantfs/pkg/metrics"
	"github.com/marmos91/tenantfs/pkg/refs"
	"github.com/marmos91/tenantfs/pkg/sqldb"
	"github.com/marmos91/tenantfs/pkg/store/local"
)

// Runtime holds every component built from a Config.
type Runtime struct {
	Config  *Config
	Manager *files.Manager
	Metrics *MetricsResult

	// GC is nil for the s3 backend.
	GC *gc.Collector

	// DB and KV are nil when not configured.
	DB *sqldb.DB
	KV *badger.DB
}

// ConfigureLogging applies the logging section.
func ConfigureLogging(cfg *Config) error {
	return logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
}

// Build wires the file manager and its stores and activates every
// configured tenant. Close releases what Build opened.
func Build(ctx context.Context, cfg *Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Metrics: InitializeMetrics(cfg)}
	if err := rt.build(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}

	logger.Info("tenantfs ready: backend=%s metadata=%s database=%s tenants=%v",
		cfg.Storage.Backend, cfg.Metadata.Type, cfg.Database.Driver, cfg.Tenants)
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context) (err error) {
	cfg := rt.Config
	if rt.DB, err = OpenDatabase(ctx, cfg); err != nil {
		return err
	}
	if rt.KV, err = OpenKV(ctx, cfg); err != nil {
		return err
	}

	primary, err := CreateMetadataStore(&cfg.Metadata, rt.DB, rt.KV)
	if err != nil {
		return err
	}

	fc := files.Config{
		Meta:             metrics.InstrumentMetaStore(primary),
		CacheDirectories: cfg.Storage.DirCache,
		DirCache: dircache.Options{
			MaxWait:  cfg.Storage.DirCacheWait,
			Observer: rt.Metrics.DirCache,
		},
		DirectLinks:     cfg.S3.DirectLinks,
		ServePrefix:     cfg.Server.Prefix,
		HeadConcurrency: cfg.Storage.HeadConcurrency,
		HeadLimiter:     ratelimiter.New(cfg.Storage.HeadRate, 0),
	}

	var rows *sqlmeta.Store
	if rt.DB != nil {
		rows = sqlmeta.New(rt.DB)
		fc.Rows = rows
		fc.Refs = refs.NewRewriter(rt.DB, refs.SQLColumns{DB: rt.DB})
	}
	fc.Legacy = CreateLegacyResolver(&cfg.Legacy, rows, rt.KV)

	switch cfg.Storage.Backend {
	case "s3":
		fc.Object, err = CreateObjectStore(ctx, &cfg.S3, rt.Metrics.S3)
	default:
		fc.Local, err = local.New(ctx, cfg.Storage.Root)
	}
	if err != nil {
		return err
	}

	if rt.Manager, err = files.NewManager(fc); err != nil {
		return fmt.Errorf("failed to create file manager: %w", err)
	}

	if fc.Local != nil {
		var gcRows gc.Rows
		if rows != nil {
			gcRows = rows
		}
		rt.GC, err = gc.NewCollector(fc.Local, gcRows, cfg.Tenants, gc.Config{
			Enabled:  cfg.GC.Enabled,
			Interval: cfg.GC.Interval,
			Timeout:  cfg.GC.Timeout,
			DryRun:   cfg.GC.DryRun,
		})
		if err != nil {
			return fmt.Errorf("failed to create garbage collector: %w", err)
		}
	}

	for _, tenant := range cfg.Tenants {
		if _, err := rt.Manager.Tenant(ctx, tenant); err != nil {
			return fmt.Errorf("failed to activate tenant %q: %w", tenant, err)
		}
	}
	return nil
}

// Handler returns the HTTP handler serving the file routes.
func (rt *Runtime) Handler(role httpapi.RoleFunc) *httpapi.Handler {
	return httpapi.NewHandler(rt.Manager, httpapi.Options{Role: role})
}

// Close releases the database handles.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.KV != nil {
		errs = append(errs, rt.KV.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	return errors.Join(errs...)
}
