package stager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"sead/internal/logging"
	"sead/internal/sip"
)

type cacheEntry struct {
	pkg   *sip.Package
	dirty bool
}

// CacheStats reports cache activity.
type CacheStats struct {
	Len           int
	Capacity      int
	Hits          int
	Misses        int
	WriteThroughs int
}

// CachedStager is a bounded write-back cache in front of a delegate stager.
// Writes land in the cache; the least recently used entry is written through
// to the delegate when it has to make room.
//
// Only entries holding a change not yet written are written through on
// eviction. Entries read from the delegate, or already flushed, match it and
// are dropped without a write, so eviction costs at most one write-through
// per evicted entry rather than exactly one.
//
// When the delegate is shared with other processes (WithSharedDelegate),
// reads always reload from the delegate and writes go straight through, so
// a cross-process lock held around a read-modify-write sees the latest
// package.
type CachedStager struct {
	delegate Stager
	capacity int
	shared   bool
	logger   *slog.Logger

	mu    sync.Mutex
	lru   *simplelru.LRU[string, *cacheEntry]
	stats CacheStats
}

// CacheOption customizes a CachedStager.
type CacheOption func(*CachedStager)

// WithSharedDelegate marks the delegate as written by other processes too.
func WithSharedDelegate() CacheOption {
	return func(c *CachedStager) {
		c.shared = true
	}
}

// availabilityChecker is implemented by delegates that can tell a staged id
// apart from one owned by other records.
type availabilityChecker interface {
	CheckAvailable(ctx context.Context, id string) error
}

// NewCachedStager wraps delegate with a cache holding at most capacity
// packages.
func NewCachedStager(delegate Stager, capacity int, logger *slog.Logger, opts ...CacheOption) (*CachedStager, error) {
	if delegate == nil {
		return nil, errors.New("cached stager: delegate is nil")
	}
	lru, err := simplelru.NewLRU[string, *cacheEntry](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("cached stager: %w", err)
	}
	c := &CachedStager{
		delegate: delegate,
		capacity: capacity,
		logger:   logging.NewComponentLogger(logger, "sip-cache"),
		lru:      lru,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Shared reports whether the delegate is treated as shared across processes.
func (c *CachedStager) Shared() bool {
	return c.shared
}

func (c *CachedStager) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.delegate.Keys(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	c.mu.Lock()
	for _, k := range c.lru.Keys() {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
			seen[k] = struct{}{}
		}
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys, nil
}

func (c *CachedStager) Get(ctx context.Context, id string) (*sip.Package, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.lru.Get(id); ok && !c.shared {
		c.stats.Hits++
		return entry.pkg.Clone(), nil
	}
	c.stats.Misses++
	pkg, err := c.delegate.Get(ctx, id)
	if err != nil {
		if c.shared && errors.Is(err, ErrNotFound) {
			c.lru.Remove(id)
		}
		return nil, err
	}
	if err := c.put(ctx, id, pkg.Clone(), false); err != nil {
		return nil, err
	}
	return pkg, nil
}

func (c *CachedStager) Add(ctx context.Context, pkg *sip.Package) (string, error) {
	id, err := idFor(pkg, c.NewID)
	if err != nil {
		return "", err
	}
	stored, err := prepare(id, pkg)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shared {
		if _, err := c.delegate.Add(ctx, stored); err != nil {
			return "", err
		}
		c.stats.WriteThroughs++
		if err := c.put(ctx, id, stored.Clone(), false); err != nil {
			return "", err
		}
		return id, nil
	}
	if c.lru.Contains(id) {
		return "", fmt.Errorf("%w: %s", ErrExists, id)
	}
	if err := c.checkAvailable(ctx, id); err != nil {
		return "", err
	}
	if err := c.put(ctx, id, stored, true); err != nil {
		return "", err
	}
	return id, nil
}

func (c *CachedStager) checkAvailable(ctx context.Context, id string) error {
	if checker, ok := c.delegate.(availabilityChecker); ok {
		return checker.CheckAvailable(ctx, id)
	}
	_, err := c.delegate.Get(ctx, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrExists, id)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return err
	}
}

func (c *CachedStager) Update(ctx context.Context, id string, pkg *sip.Package) error {
	stored, err := prepare(id, pkg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shared {
		entry := &cacheEntry{pkg: stored, dirty: true}
		if err := c.writeThrough(ctx, id, entry); err != nil {
			return err
		}
		return c.put(ctx, id, stored.Clone(), false)
	}
	return c.put(ctx, id, stored, true)
}

// Remove drops the cached entry without writing it through, then removes the
// package from the delegate.
func (c *CachedStager) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(id)
	return c.delegate.Remove(ctx, id)
}

func (c *CachedStager) NewID() string {
	return c.delegate.NewID()
}

// Flush writes every dirty cached package through to the delegate. Entries
// stay cached.
func (c *CachedStager) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, id := range c.lru.Keys() {
		entry, ok := c.lru.Peek(id)
		if !ok || !entry.dirty {
			continue
		}
		if err := c.writeThrough(ctx, id, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of cache counters.
func (c *CachedStager) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Len = c.lru.Len()
	stats.Capacity = c.capacity
	return stats
}

// put caches pkg, evicting the oldest entry first when full. A failed
// write-through leaves the cache unchanged. Callers hold c.mu.
func (c *CachedStager) put(ctx context.Context, id string, pkg *sip.Package, dirty bool) error {
	if entry, ok := c.lru.Peek(id); ok {
		entry.pkg = pkg
		entry.dirty = entry.dirty || dirty
		c.lru.Get(id)
		return nil
	}
	if c.lru.Len() >= c.capacity {
		oldID, oldest, ok := c.lru.GetOldest()
		if ok {
			if oldest.dirty {
				if err := c.writeThrough(ctx, oldID, oldest); err != nil {
					return fmt.Errorf("evict %s: %w", oldID, err)
				}
			}
			c.lru.RemoveOldest()
		}
	}
	c.lru.Add(id, &cacheEntry{pkg: pkg, dirty: dirty})
	return nil
}

func (c *CachedStager) writeThrough(ctx context.Context, id string, entry *cacheEntry) error {
	if err := c.delegate.Update(ctx, id, entry.pkg); err != nil {
		logging.WarnWithContext(ctx, c.logger, "sip cache write-through failed", "sip_cache_write_failed",
			logging.String(logging.FieldSIPID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check archive database health"),
		)
		return err
	}
	entry.dirty = false
	c.stats.WriteThroughs++
	c.logger.Debug("sip written through", logging.String(logging.FieldSIPID, id))
	return nil
}
