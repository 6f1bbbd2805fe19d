package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotFound is an exported constant or variable used by the authentication engine.
	ErrNotFound = errors.New("principal not found")
	// ErrUnavailable is an exported constant or variable used by the authentication engine.
	ErrUnavailable = errors.New("directory unavailable")
)

// Fetcher resolves a principal id against the backing registry. It must return
// ErrNotFound (possibly wrapped) when the id does not exist, and any other
// error when the registry cannot be reached.
type Fetcher[V any] interface {
	Fetch(ctx context.Context, id string) (V, error)
}

// FetcherFunc adapts a function to the [Fetcher] interface.
type FetcherFunc[V any] func(ctx context.Context, id string) (V, error)

// Fetch calls f.
func (f FetcherFunc[V]) Fetch(ctx context.Context, id string) (V, error) {
	return f(ctx, id)
}

// Config holds cache tuning parameters.
type Config struct {
	// TTL is how long a fetched entry is served without re-fetching.
	TTL time.Duration
	// Grace extends an expired entry's usability when the registry is down.
	Grace time.Duration
	// SweepInterval controls how often entries past TTL+Grace are evicted.
	// Zero picks TTL+Grace.
	SweepInterval time.Duration
	// FetchTimeout bounds one registry fetch attempt. Zero picks 2s.
	FetchTimeout time.Duration
	// FetchRetries is the number of additional attempts after the first
	// failed fetch. Negative is treated as zero.
	FetchRetries int
}

// Stats reports cumulative cache behavior counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	StaleServed uint64
	Evictions   uint64
}

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache is a read-mostly TTL cache in front of a registry [Fetcher].
// Reads take only an RLock; concurrent misses for the same id may each
// trigger a fetch, with the last completed fetch winning.
type Cache[V any] struct {
	config  Config
	fetcher Fetcher[V]

	mu      sync.RWMutex
	entries map[string]*entry[V]

	hits        atomic.Uint64
	misses      atomic.Uint64
	staleServed atomic.Uint64
	evictions   atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a directory cache over the given fetcher. TTL must be positive
// and Grace non-negative.
func New[V any](fetcher Fetcher[V], cfg Config) (*Cache[V], error) {
	if fetcher == nil {
		return nil, errors.New("directory cache requires a fetcher")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("directory cache requires positive TTL")
	}
	if cfg.Grace < 0 {
		return nil, errors.New("directory cache requires non-negative Grace")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.TTL + cfg.Grace
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Second
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}

	c := &Cache[V]{
		config:  cfg,
		fetcher: fetcher,
		entries: make(map[string]*entry[V]),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.sweepLoop()

	return c, nil
}

// Lookup resolves id through the cache. It returns ErrNotFound when the
// registry reports the id unknown, and ErrUnavailable when the registry is
// unreachable and no entry within TTL+Grace exists.
func (c *Cache[V]) Lookup(ctx context.Context, id string) (V, error) {
	var zero V

	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if ok && time.Since(e.fetchedAt) < c.config.TTL {
		c.hits.Add(1)
		return e.value, nil
	}
	c.misses.Add(1)

	value, err := c.fetch(ctx, id)
	if err == nil {
		c.store(id, value)
		return value, nil
	}
	if errors.Is(err, ErrNotFound) {
		return zero, err
	}

	// Registry down: fall back to a stale entry still inside the grace period.
	if ok && time.Since(e.fetchedAt) < c.config.TTL+c.config.Grace {
		c.staleServed.Add(1)
		return e.value, nil
	}

	return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Invalidate drops the cached entry for id, forcing the next Lookup to fetch.
func (c *Cache[V]) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Stats returns cumulative hit/miss/stale/eviction counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		StaleServed: c.staleServed.Load(),
		Evictions:   c.evictions.Load(),
	}
}

// Len reports the number of cached entries, fresh or stale.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the eviction sweeper.
func (c *Cache[V]) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}

func (c *Cache[V]) fetch(ctx context.Context, id string) (V, error) {
	var zero V
	var lastErr error

	for attempt := 0; attempt <= c.config.FetchRetries; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
		value, err := c.fetcher.Fetch(fetchCtx, id)
		cancel()

		if err == nil {
			return value, nil
		}
		if errors.Is(err, ErrNotFound) {
			return zero, err
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return zero, lastErr
}

func (c *Cache[V]) store(id string, value V) {
	c.mu.Lock()
	c.entries[id] = &entry[V]{value: value, fetchedAt: time.Now()}
	c.mu.Unlock()
}

func (c *Cache[V]) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep evicts entries older than TTL+Grace. Each entry is processed under its
// own critical section so one eviction never blocks the rest of the pass.
func (c *Cache[V]) sweep() {
	cutoff := c.config.TTL + c.config.Grace

	c.mu.RLock()
	expired := make([]string, 0)
	for id, e := range c.entries {
		if time.Since(e.fetchedAt) >= cutoff {
			expired = append(expired, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range expired {
		c.mu.Lock()
		if e, ok := c.entries[id]; ok && time.Since(e.fetchedAt) >= cutoff {
			delete(c.entries, id)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
	}
}
