// Package registry manages a pool of open per-tenant sqlitestore handles
// with LRU eviction and idle reaping, so cmd/nestedsetd can serve many
// tenants without one open database handle per tenant for the lifetime of
// the process.
package registry

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nestedset/store/sqlitestore"
)

var (
	// ErrTenantNotFound is returned by Get when no database exists yet for
	// the requested tenant.
	ErrTenantNotFound = errors.New("registry: tenant not found")
	// ErrTenantExists is returned by Create when a database already
	// exists for the tenant.
	ErrTenantExists = errors.New("registry: tenant already exists")
)

// Handle is one open, reference-counted tenant database.
type Handle struct {
	Tenant string
	Store  *sqlitestore.Store

	mu       sync.Mutex
	active   int
	lastUsed time.Time
	element  *list.Element
}

// Config configures a Registry.
type Config struct {
	DataDir string        // base directory; one subdirectory per tenant
	MaxOpen int           // LRU capacity; default 256
	IdleTTL time.Duration // idle handles older than this are reaped; default 10m
}

// Registry caches open tenant handles, evicting the least recently used
// inactive handle when a new tenant must be opened at MaxOpen capacity,
// and closing handles that have sat idle past IdleTTL. Active handles are
// never evicted: when every cached handle is active, the new handle is
// opened anyway and the count exceeds MaxOpen.
type Registry struct {
	cfg     Config
	mu      sync.RWMutex
	handles map[string]*Handle
	lru     *list.List
	stop    chan struct{}
}

// New creates a Registry and starts its idle reaper.
func New(cfg Config) *Registry {
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 256
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	r := &Registry{
		cfg:     cfg,
		handles: make(map[string]*Handle),
		lru:     list.New(),
		stop:    make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

func (r *Registry) dbPath(tenant string) string {
	return filepath.Join(r.cfg.DataDir, tenant, "tree.db")
}

// Get returns the open handle for tenant, opening it from disk if it
// already exists but is not currently cached. It fails with
// ErrTenantNotFound if no database file exists for tenant.
func (r *Registry) Get(ctx context.Context, tenant string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[tenant]
	r.mu.RUnlock()
	if ok {
		r.touch(h)
		return h, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[tenant]; ok {
		r.touchLocked(h)
		return h, nil
	}

	if _, err := os.Stat(r.dbPath(tenant)); os.IsNotExist(err) {
		return nil, ErrTenantNotFound
	}

	return r.openLocked(tenant)
}

// Create opens (creating the backing file) a fresh tenant database. It
// fails with ErrTenantExists if the tenant already has a database.
func (r *Registry) Create(ctx context.Context, tenant string) (*Handle, error) {
	if _, err := os.Stat(r.dbPath(tenant)); err == nil {
		return nil, ErrTenantExists
	}
	if err := os.MkdirAll(filepath.Join(r.cfg.DataDir, tenant), 0o755); err != nil {
		return nil, fmt.Errorf("registry: creating tenant directory: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[tenant]; ok {
		return nil, ErrTenantExists
	}
	return r.openLocked(tenant)
}

// Acquire marks h as in use, preventing eviction or reaping until a
// matching Release.
func (r *Registry) Acquire(h *Handle) {
	h.mu.Lock()
	h.active++
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

// Release marks h as no longer in use.
func (r *Registry) Release(h *Handle) {
	h.mu.Lock()
	h.active--
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

// Open reports how many handles are currently cached, for P9 testing and
// metrics.
func (r *Registry) Open() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Close shuts the registry down, closing every cached handle.
func (r *Registry) Close() error {
	close(r.stop)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		r.closeLocked(h)
	}
	return nil
}

func (r *Registry) openLocked(tenant string) (*Handle, error) {
	for len(r.handles) >= r.cfg.MaxOpen {
		if !r.evictOneLocked() {
			break
		}
	}

	st, err := sqlitestore.Open(r.dbPath(tenant))
	if err != nil {
		return nil, err
	}
	if err := st.EnsureAuditSchema(context.Background()); err != nil {
		st.Close()
		return nil, err
	}

	h := &Handle{Tenant: tenant, Store: st, lastUsed: time.Now()}
	h.element = r.lru.PushFront(tenant)
	r.handles[tenant] = h
	return h, nil
}

func (r *Registry) closeLocked(h *Handle) {
	h.Store.Close()
	if h.element != nil {
		r.lru.Remove(h.element)
	}
	delete(r.handles, h.Tenant)
}

func (r *Registry) touch(h *Handle) {
	r.mu.Lock()
	r.touchLocked(h)
	r.mu.Unlock()
}

func (r *Registry) touchLocked(h *Handle) {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
	if h.element != nil {
		r.lru.MoveToFront(h.element)
	}
}

// evictOneLocked evicts the least recently used inactive handle. It never
// evicts a handle with active > 0 (P9).
func (r *Registry) evictOneLocked() bool {
	for e := r.lru.Back(); e != nil; e = e.Prev() {
		tenant := e.Value.(string)
		h := r.handles[tenant]
		h.mu.Lock()
		idle := h.active == 0
		h.mu.Unlock()
		if idle {
			r.closeLocked(h)
			return true
		}
	}
	return false
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

func (r *Registry) reapIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.cfg.IdleTTL)
	for e := r.lru.Back(); e != nil; {
		tenant := e.Value.(string)
		h := r.handles[tenant]
		prev := e.Prev()

		h.mu.Lock()
		idle := h.active == 0 && h.lastUsed.Before(cutoff)
		h.mu.Unlock()

		if idle {
			r.closeLocked(h)
		}
		e = prev
	}
}
