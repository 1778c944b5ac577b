package storage

import (
	"context"
	"sync"
	"time"

	"github.com/HatiCode/shedcast/pkg/models"
)

// DefaultCacheMaxAge bounds how long a cached model is served before the
// backend is read again.
const DefaultCacheMaxAge = 30 * time.Second

// CachedStore keeps decoded models in memory in front of a slower backend.
//
// A scope is read from the backend on first use and served from memory for
// at most maxAge afterwards, so a model saved to a shared backend by another
// instance becomes visible within that window. Save writes through to the
// backend first and only then replaces the cached entry, so a failed write
// never leaves a model in the cache that the backend does not hold.
// Misses are not cached.
type CachedStore struct {
	backend ModelStore
	maxAge  time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry

	// loadMu serialises backend loads so a cold scope is decoded once.
	loadMu sync.Mutex
}

type cacheEntry struct {
	model    models.TrainedModel
	loadedAt time.Time
}

// NewCachedStore wraps backend with an in-memory cache whose entries expire
// after maxAge. A non-positive maxAge selects DefaultCacheMaxAge.
func NewCachedStore(backend ModelStore, maxAge time.Duration) *CachedStore {
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}
	return &CachedStore{
		backend: backend,
		maxAge:  maxAge,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// Save writes the model to the backend and refreshes the cache.
// The cache lock is only taken to swap the entry, not for the backend write.
func (c *CachedStore) Save(ctx context.Context, model models.TrainedModel) error {
	if err := c.backend.Save(ctx, model); err != nil {
		c.mu.Lock()
		delete(c.cache, model.Scope)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.cache[model.Scope] = cacheEntry{model: model, loadedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Load returns a fresh cached model or reloads it from the backend.
func (c *CachedStore) Load(ctx context.Context, scope string) (models.TrainedModel, bool, error) {
	if model, ok := c.fresh(scope); ok {
		return model, true, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	// Another Load or Save may have refreshed the entry while we waited.
	if model, ok := c.fresh(scope); ok {
		return model, true, nil
	}

	started := c.now()
	model, found, err := c.backend.Load(ctx, scope)
	if err != nil {
		return models.TrainedModel{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A Save that finished during the backend read is newer than what we got.
	if entry, ok := c.cache[scope]; ok && entry.loadedAt.After(started) {
		return entry.model, true, nil
	}
	if !found {
		delete(c.cache, scope)
		return models.TrainedModel{}, false, nil
	}
	c.cache[scope] = cacheEntry{model: model, loadedAt: started}
	return model, true, nil
}

func (c *CachedStore) fresh(scope string) (models.TrainedModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[scope]
	if !ok || c.now().Sub(entry.loadedAt) >= c.maxAge {
		return models.TrainedModel{}, false
	}
	return entry.model, true
}

// Invalidate drops the cached model for scope.
func (c *CachedStore) Invalidate(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, scope)
}

// Close closes the backend when it supports closing.
func (c *CachedStore) Close() error {
	if closer, ok := c.backend.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Ping checks the backend when it supports health checks.
func (c *CachedStore) Ping(ctx context.Context) error {
	if p, ok := c.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
