package match

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eargollo/studiowatch/internal/commerce"
)

// DefaultTTL is how long a catalog snapshot is served before refetching.
const DefaultTTL = 5 * time.Minute

// DefaultFetchTimeout bounds a shared catalog fetch.
const DefaultFetchTimeout = 2 * time.Minute

// Lister fetches the catalog from the storefront.
type Lister interface {
	ListCatalogProducts(ctx context.Context, includeDrafts bool) ([]commerce.Product, error)
}

// Cache holds catalog snapshots, one per drafts flag. Concurrent misses share
// a single fetch.
type Cache struct {
	src          Lister
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	gen   uint64
	snaps map[bool]snapshot
}

type snapshot struct {
	products  []commerce.Product
	fetchedAt time.Time
}

// NewCache creates a Cache over src. ttl <= 0 uses DefaultTTL.
func NewCache(src Lister, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		src:          src,
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		snaps:        make(map[bool]snapshot),
	}
}

// Products returns a fresh-enough snapshot, fetching one if needed.
func (c *Cache) Products(ctx context.Context, includeDrafts bool) ([]commerce.Product, error) {
	c.mu.RLock()
	snap, ok := c.snaps[includeDrafts]
	gen := c.gen
	c.mu.RUnlock()
	if ok && c.now().Sub(snap.fetchedAt) < c.ttl {
		return snap.products, nil
	}

	// The fetch is shared, so it must not die with whichever caller started
	// it. Each caller still gives up on its own ctx.
	key := strconv.FormatBool(includeDrafts) + "/" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		products, err := c.src.ListCatalogProducts(fctx, includeDrafts)
		if err != nil {
			return nil, fmt.Errorf("list catalog products: %w", err)
		}
		c.mu.Lock()
		// An Invalidate during the fetch wins; don't cache a possibly stale list.
		if c.gen == gen {
			c.snaps[includeDrafts] = snapshot{products: products, fetchedAt: c.now()}
		}
		c.mu.Unlock()
		slog.Debug("catalog cache: refreshed", "include_drafts", includeDrafts, "products", len(products))
		return products, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]commerce.Product), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("list catalog products: %w", ctx.Err())
	}
}

// Invalidate drops every snapshot. Call it after creating a catalog entry so
// it is matchable without waiting for the TTL.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.snaps = make(map[bool]snapshot)
	c.mu.Unlock()
	slog.Info("catalog cache: invalidated")
}
