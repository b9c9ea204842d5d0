package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type tenantKey struct{}

// WithTenant returns a context carrying a tenant key for TenantFromContext.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext reads the tenant set by WithTenant, falling back to
// DefaultTenant. Assign it to Config.TenantKey for multi-tenant stores.
func TenantFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(tenantKey{}).(string); ok && t != "" {
		return t
	}
	return DefaultTenant
}

// registryEntry is published before its adapter connects. ready is closed
// once the connection settles; adapter and err are read only after that.
type registryEntry struct {
	tenant   string
	adapter  Adapter
	err      error
	ready    chan struct{}
	cancel   context.CancelFunc
	lastUsed time.Time
}

func (e *registryEntry) connected() bool {
	select {
	case <-e.ready:
		return e.err == nil
	default:
		return false
	}
}

// registry holds at most one adapter per tenant key.
type registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	config  *Config
}

func newRegistry(config *Config) *registry {
	return &registry{
		entries: make(map[string]*registryEntry),
		config:  config,
	}
}

// get returns the connected adapter for tenant, creating it on first access.
// Concurrent first callers share one connection attempt.
func (r *registry) get(ctx context.Context, tenant string) (Adapter, error) {
	r.mu.Lock()
	e, ok := r.entries[tenant]
	if !ok {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e = &registryEntry{
			tenant: tenant,
			ready:  make(chan struct{}),
			cancel: cancel,
		}
		r.entries[tenant] = e
		go r.connect(loopCtx, e)
	}
	e.lastUsed = time.Now()
	r.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	if !ok {
		r.evict(ctx, tenant)
	}
	return e.adapter, nil
}

// connect builds and connects the entry's adapter, retrying while
// auto-reconnect is enabled. It always closes e.ready.
func (r *registry) connect(ctx context.Context, e *registryEntry) {
	defer close(e.ready)
	log := r.config.Logger.With("tenant", e.tenant)

	adapter, err := r.config.Adapter(ctx, e.tenant)
	if err != nil {
		r.fail(e, &ConnectionError{Tenant: e.tenant, Err: err})
		return
	}

	for attempt := 0; ; attempt++ {
		err = adapter.Connect(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			r.fail(e, &ConnectionError{Tenant: e.tenant, Err: ErrClosed})
			return
		}
		if !r.config.AutoReconnect {
			r.fail(e, &ConnectionError{Tenant: e.tenant, Err: err})
			return
		}
		delay, retry := r.config.Retryer.NextDelay(attempt, err)
		if !retry {
			r.fail(e, &ConnectionError{Tenant: e.tenant, Err: err})
			return
		}
		log.Warn("adapter connection failed, retrying",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			r.fail(e, &ConnectionError{Tenant: e.tenant, Err: ErrClosed})
			return
		}
	}

	for _, idx := range r.config.Indexes {
		if err := adapter.CreateIndex(ctx, idx); err != nil {
			if d, ok := adapter.(Disconnecter); ok {
				_ = d.Disconnect(ctx)
			}
			r.fail(e, err)
			return
		}
	}

	e.adapter = adapter
	log.Info("adapter connected")
}

// fail records err on e and drops the entry so the next call starts fresh.
func (r *registry) fail(e *registryEntry, err error) {
	e.err = err
	r.mu.Lock()
	if r.entries[e.tenant] == e {
		delete(r.entries, e.tenant)
	}
	r.mu.Unlock()
}

// evict disconnects the least recently used adapters beyond MaxAdapters,
// never touching keep.
func (r *registry) evict(ctx context.Context, keep string) {
	if r.config.MaxAdapters <= 0 {
		return
	}

	r.mu.Lock()
	var candidates []*registryEntry
	for _, e := range r.entries {
		if e.tenant != keep && e.connected() {
			candidates = append(candidates, e)
		}
	}
	excess := len(r.entries) - r.config.MaxAdapters
	if excess <= 0 {
		r.mu.Unlock()
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})
	if excess > len(candidates) {
		excess = len(candidates)
	}
	victims := candidates[:excess]
	for _, e := range victims {
		delete(r.entries, e.tenant)
	}
	r.mu.Unlock()

	for _, e := range victims {
		r.config.Logger.Info("evicting idle adapter", "tenant", e.tenant)
		if err := disconnect(ctx, e); err != nil {
			r.config.Logger.Warn("failed to disconnect evicted adapter",
				"tenant", e.tenant,
				"error", err,
			)
		}
	}
}

// disconnectAll cancels pending connections, disconnects every adapter and
// empties the registry. Failures are joined once every disconnect settled.
func (r *registry) disconnectAll(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, e := range entries {
		wg.Add(1)
		go func(e *registryEntry) {
			defer wg.Done()
			e.cancel()
			<-e.ready
			if err := disconnect(ctx, e); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// disconnect releases e's adapter if it connected and supports it.
func disconnect(ctx context.Context, e *registryEntry) error {
	if e.err != nil || e.adapter == nil {
		return nil
	}
	d, ok := e.adapter.(Disconnecter)
	if !ok {
		return nil
	}
	if err := d.Disconnect(ctx); err != nil {
		return &DisconnectError{Tenant: e.tenant, Err: err}
	}
	return nil
}

// size reports the number of entries, connected or pending.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
