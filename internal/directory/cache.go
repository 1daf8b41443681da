package directory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type loadFunc[V any] func(ctx context.Context, key string) (V, bool, error)

type cacheEntry[V any] struct {
	value               V
	lastSuccessAt       time.Time
	consecutiveFailures int
}

type lookupResult[V any] struct {
	value V
	found bool
}

// refreshCache holds positive lookups only. An entry older than
// refreshAfter is reloaded on access; if the reload fails the old value is
// served until expireAfter has passed since the last successful load.
type refreshCache[V any] struct {
	name         string
	mu           sync.RWMutex
	entries      map[string]cacheEntry[V]
	generation   uint64
	refreshAfter time.Duration
	expireAfter  time.Duration
	now          func() time.Time
	load         loadFunc[V]
	loads        singleflight.Group
	logger       zerolog.Logger
}

func newRefreshCache[V any](name string, refreshAfter, expireAfter time.Duration, now func() time.Time, load loadFunc[V], logger zerolog.Logger) *refreshCache[V] {
	return &refreshCache[V]{
		name:         name,
		entries:      make(map[string]cacheEntry[V]),
		refreshAfter: refreshAfter,
		expireAfter:  expireAfter,
		now:          now,
		load:         load,
		logger:       logger.With().Str("cache", name).Logger(),
	}
}

func (c *refreshCache[V]) get(ctx context.Context, key string) (V, bool, error) {
	c.mu.RLock()
	entry, cached := c.entries[key]
	c.mu.RUnlock()

	if cached && c.now().Sub(entry.lastSuccessAt) < c.refreshAfter {
		return entry.value, true, nil
	}

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	// Loads for one key are collapsed so their writes never interleave. The
	// shared load must not die with whichever caller happened to start it.
	flight := strconv.FormatUint(gen, 10) + "/" + key
	res, err, _ := c.loads.Do(flight, func() (interface{}, error) {
		return c.reload(context.WithoutCancel(ctx), key, gen)
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	out := res.(lookupResult[V])
	return out.value, out.found, nil
}

// reload only writes back if no invalidation happened while the load was
// running; otherwise the answer goes to the waiting callers and nowhere else.
func (c *refreshCache[V]) reload(ctx context.Context, key string, gen uint64) (lookupResult[V], error) {
	value, found, err := c.load(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		if err != nil {
			return lookupResult[V]{}, err
		}
		return lookupResult[V]{value: value, found: found}, nil
	}

	now := c.now()
	entry, cached := c.entries[key]

	if err != nil {
		if cached && now.Sub(entry.lastSuccessAt) < c.expireAfter {
			entry.consecutiveFailures++
			c.entries[key] = entry
			c.logger.Warn().Err(err).
				Str("key", key).
				Int("failures", entry.consecutiveFailures).
				Msg("Refresh failed, serving cached value")
			return lookupResult[V]{value: entry.value, found: true}, nil
		}
		delete(c.entries, key)
		return lookupResult[V]{}, err
	}

	if !found {
		// Absence is usually a container that has not started yet.
		delete(c.entries, key)
		return lookupResult[V]{}, nil
	}

	c.entries[key] = cacheEntry[V]{value: value, lastSuccessAt: now}
	return lookupResult[V]{value: value, found: true}, nil
}

func (c *refreshCache[V]) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.generation++
	c.mu.Unlock()
}

func (c *refreshCache[V]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *refreshCache[V]) clear() {
	c.mu.Lock()
	clear(c.entries)
	c.generation++
	c.mu.Unlock()
}
