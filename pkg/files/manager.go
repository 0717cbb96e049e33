package files

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/internal/ratelimiter"
	"github.com/marmos91/tenantfs/pkg/dircache"
	"github.com/marmos91/tenantfs/pkg/legacy"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/meta/sqlmeta"
	"github.com/marmos91/tenantfs/pkg/pathutil"
	"github.com/marmos91/tenantfs/pkg/refs"
	"github.com/marmos91/tenantfs/pkg/store/local"
	"github.com/marmos91/tenantfs/pkg/store/s3"
)

// Config wires a Manager. Local or Object selects the backend; the object
// store wins when both are set.
type Config struct {
	// Local is the filesystem root holding one directory per tenant.
	Local *local.Store

	// Object is the bucket view holding one key prefix per tenant.
	Object *s3.Store

	// Meta is the primary metadata store of local files. Files it does not
	// know fall back to extended attributes. May be nil.
	Meta meta.Store

	// Rows answers Where.InDB queries. May be nil.
	Rows *sqlmeta.Store

	// Refs rewrites File columns after renames and moves. May be nil.
	Refs *refs.Rewriter

	// Legacy resolves numeric ids passed to FindOne. May be nil.
	Legacy legacy.Resolver

	// CacheDirectories enables the directory cache for every tenant.
	CacheDirectories bool
	DirCache         dircache.Options

	// DirectLinks serves object-store files straight from the bucket.
	DirectLinks bool
	ServePrefix string

	// HeadConcurrency and HeadLimiter throttle metadata lookups while
	// listing the object store.
	HeadConcurrency int
	HeadLimiter     *ratelimiter.RateLimiter
}

// Manager owns the per-tenant Stores and the directory cache registry.
type Manager struct {
	cfg   Config
	xattr meta.Store
	cache *dircache.Registry[File]

	mu      sync.Mutex
	tenants map[string]*Store
}

// NewManager validates cfg and returns a Manager with no active tenant.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Local == nil && cfg.Object == nil {
		return nil, fmt.Errorf("no storage backend configured")
	}
	if cfg.HeadConcurrency <= 0 {
		cfg.HeadConcurrency = DefaultHeadConcurrency
	}

	m := &Manager{
		cfg:     cfg,
		tenants: make(map[string]*Store),
	}
	if cfg.Local != nil {
		m.xattr = local.NewXattrMeta(cfg.Local)
	}
	m.cache = dircache.New(m.walkDirectories, cfg.DirCache)
	return m, nil
}

// Kind returns the backend files are stored in.
func (m *Manager) Kind() Kind {
	if m.cfg.Object != nil {
		return KindObject
	}
	return KindLocal
}

// Cache exposes the directory cache registry.
func (m *Manager) Cache() *dircache.Registry[File] { return m.cache }

// Tenant returns the Store of a tenant, activating it on first use.
func (m *Manager) Tenant(ctx context.Context, name string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.tenants[name]; ok {
		return s, nil
	}

	s, err := m.newStore(ctx, name)
	if err != nil {
		return nil, err
	}
	m.tenants[name] = s
	if m.cfg.CacheDirectories && s.backend.Kind() == KindLocal {
		m.cache.Enable(name)
	}

	logger.Info("Activated tenant %s (backend=%s)", name, s.backend.Kind())
	return s, nil
}

// RemoveTenant deactivates a tenant and drops its cached directories. Stored
// files are left untouched.
func (m *Manager) RemoveTenant(name string) {
	m.mu.Lock()
	delete(m.tenants, name)
	m.mu.Unlock()

	m.cache.Remove(name)
	logger.Info("Deactivated tenant %s", name)
}

func (m *Manager) newStore(ctx context.Context, name string) (*Store, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || pathutil.Normalise(name) != name {
		return nil, fmt.Errorf("%w %q", ErrInvalidTenant, name)
	}

	resolver := &pathutil.Resolver{
		DirectLinks: m.cfg.DirectLinks,
		ServePrefix: m.cfg.ServePrefix,
	}

	var backend Backend
	if m.cfg.Object != nil {
		view := m.cfg.Object.Tenant(name)
		backend = &objectBackend{
			store:       view,
			concurrency: m.cfg.HeadConcurrency,
			limiter:     m.cfg.HeadLimiter,
		}
		resolver.PublicURLPrefix = view.PublicURLPrefix()
		resolver.Linker = view
	} else {
		root, err := m.cfg.Local.Tenant(ctx, name)
		if err != nil {
			return nil, err
		}
		backend = &localBackend{
			tenant:  name,
			fs:      root,
			primary: m.cfg.Meta,
			xattr:   m.xattr,
		}
	}

	return &Store{
		m:        m,
		tenant:   name,
		backend:  backend,
		resolver: resolver,
	}, nil
}

func (m *Manager) walkDirectories(ctx context.Context, tenant string) ([]File, error) {
	s, err := m.Tenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return s.backend.Directories(ctx)
}
