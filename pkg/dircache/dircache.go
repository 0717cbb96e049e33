// Package dircache caches the full directory list of each tenant.
//
// Each tenant moves through three states:
//
//	Absent -> Building -> Populated -> Absent (Destroy)
//
// Only one walk per tenant runs at a time. Callers arriving while a walk is
// in flight poll with exponential backoff until it completes, or fail with
// ErrTimeout once MaxWait has elapsed. A tenant that was never enabled is
// walked directly on every request and never cached.
package dircache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/tenantfs/internal/logger"
)

// State is the cache state of one tenant.
type State int

const (
	Absent State = iota
	Building
	Populated
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Building:
		return "building"
	case Populated:
		return "populated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrTimeout is returned when a build in flight does not finish in time.
var ErrTimeout = errors.New("timed out waiting for directory cache build")

const (
	DefaultMaxWait        = 2 * time.Minute
	DefaultInitialBackoff = 10 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// WalkFunc produces the directory list of a tenant.
type WalkFunc[T any] func(ctx context.Context, tenant string) ([]T, error)

// Observer receives cache events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveBuild(tenant string, duration time.Duration, err error)
	ObserveWait(tenant string, duration time.Duration, err error)
	ObserveLookup(tenant string, hit bool)
}

type noopObserver struct{}

func (noopObserver) ObserveBuild(string, time.Duration, error) {}
func (noopObserver) ObserveWait(string, time.Duration, error)  {}
func (noopObserver) ObserveLookup(string, bool)                {}

// Options tunes a Registry. Zero values select the defaults.
type Options struct {
	MaxWait        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Observer       Observer
}

type entry[T any] struct {
	enabled bool
	state   State
	dirs    []T
	gen     uint64
}

// Registry holds the cache of every tenant. It is safe for concurrent use.
type Registry[T any] struct {
	walk WalkFunc[T]
	opts Options

	mu      sync.Mutex
	tenants map[string]*entry[T]
}

// New returns an empty registry that fills itself with walk.
func New[T any](walk WalkFunc[T], opts Options) *Registry[T] {
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}

	return &Registry[T]{
		walk:    walk,
		opts:    opts,
		tenants: make(map[string]*entry[T]),
	}
}

// entryLocked returns the entry of tenant, creating it. r.mu must be held.
func (r *Registry[T]) entryLocked(tenant string) *entry[T] {
	e, ok := r.tenants[tenant]
	if !ok {
		e = &entry[T]{}
		r.tenants[tenant] = e
	}
	return e
}

// Enable opts a tenant into caching. It does not populate the cache.
func (r *Registry[T]) Enable(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryLocked(tenant).enabled = true
}

// Enabled reports whether the tenant is cached.
func (r *Registry[T]) Enabled(tenant string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tenants[tenant]
	return ok && e.enabled
}

// State returns the current state of a tenant.
func (r *Registry[T]) State(tenant string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tenants[tenant]; ok {
		return e.state
	}
	return Absent
}

// Destroy invalidates the cache of a tenant. A build in flight finishes but
// its result is discarded.
func (r *Registry[T]) Destroy(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tenants[tenant]; ok {
		e.state = Absent
		e.dirs = nil
		e.gen++
		logger.Debug("Directory cache destroyed for tenant %s", tenant)
	}
}

// Remove forgets a tenant entirely, including its enabled flag.
func (r *Registry[T]) Remove(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tenants[tenant]; ok {
		e.gen++
		delete(r.tenants, tenant)
	}
}

// Build forces a fresh walk for an enabled tenant. When a build is already
// in flight, Build waits for it instead of starting another.
func (r *Registry[T]) Build(ctx context.Context, tenant string) error {
	r.mu.Lock()
	e := r.entryLocked(tenant)
	if e.state == Building {
		r.mu.Unlock()
		_, err := r.wait(ctx, tenant)
		return err
	}
	e.enabled = true
	e.state = Building
	gen := e.gen
	r.mu.Unlock()

	_, err := r.build(ctx, tenant, gen)
	return err
}

// Directories returns the directory list of a tenant, from the cache when
// the tenant is enabled and ignoreCache is false.
//
// A tenant whose entry is Absent is walked by the caller, which moves the
// entry to Building first. Concurrent callers that find it Building wait for
// that walk instead of starting their own, up to Options.MaxWait. A walk
// that finishes after Destroy or Remove bumped the generation is returned to
// its caller but never cached.
//
// Parameters:
//   - ctx: Context for cancellation of the walk or the wait
//   - tenant: Tenant whose directories are listed
//   - ignoreCache: Walk the tree even when a cached list exists
//
// Returns:
//   - []T: A copy of the directory list; callers may modify it
//   - error: The walk error, ErrTimeout when waiting took too long, or the
//     context error
//
// Thread safety:
// Safe for concurrent use.
func (r *Registry[T]) Directories(ctx context.Context, tenant string, ignoreCache bool) ([]T, error) {
	if ignoreCache || !r.Enabled(tenant) {
		return r.walk(ctx, tenant)
	}

	r.mu.Lock()
	e := r.entryLocked(tenant)
	switch e.state {
	case Populated:
		dirs := slices.Clone(e.dirs)
		r.mu.Unlock()
		r.opts.Observer.ObserveLookup(tenant, true)
		return dirs, nil

	case Building:
		r.mu.Unlock()
		r.opts.Observer.ObserveLookup(tenant, false)
		return r.wait(ctx, tenant)

	default:
		e.state = Building
		gen := e.gen
		r.mu.Unlock()
		r.opts.Observer.ObserveLookup(tenant, false)
		return r.build(ctx, tenant, gen)
	}
}

// build performs the walk for generation gen. The caller must have moved
// the entry to Building.
func (r *Registry[T]) build(ctx context.Context, tenant string, gen uint64) ([]T, error) {
	start := time.Now()
	dirs, err := r.walk(ctx, tenant)
	elapsed := time.Since(start)
	r.opts.Observer.ObserveBuild(tenant, elapsed, err)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tenants[tenant]
	if !ok || e.gen != gen {
		// Destroyed or removed meanwhile.
		return dirs, err
	}

	if err != nil {
		e.state = Absent
		logger.Warn("Directory cache build failed for tenant %s: %v", tenant, err)
		return nil, err
	}

	e.state = Populated
	e.dirs = dirs
	logger.Debug("Directory cache built for tenant %s: %d directories in %s", tenant, len(dirs), elapsed)
	return slices.Clone(dirs), nil
}

// wait polls until the in-flight build completes. If the build fails or is
// invalidated, the waiter takes over and builds itself.
func (r *Registry[T]) wait(ctx context.Context, tenant string) (dirs []T, err error) {
	start := time.Now()
	defer func() {
		r.opts.Observer.ObserveWait(tenant, time.Since(start), err)
	}()

	delay := r.opts.InitialBackoff
	deadline := start.Add(r.opts.MaxWait)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("tenant %s: %w", tenant, ErrTimeout)
		}

		timer := time.NewTimer(min(delay, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		r.mu.Lock()
		e := r.entryLocked(tenant)
		switch e.state {
		case Populated:
			dirs := slices.Clone(e.dirs)
			r.mu.Unlock()
			return dirs, nil
		case Absent:
			e.state = Building
			gen := e.gen
			r.mu.Unlock()
			return r.build(ctx, tenant, gen)
		}
		r.mu.Unlock()

		delay = min(delay*2, r.opts.MaxBackoff)
	}
}
