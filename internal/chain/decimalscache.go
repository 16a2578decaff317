package chain

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
)

// decimalsCacheSize bounds the decimals cache, matching spec §4.9/§5's
// LRU(1000) shared-resource discipline.
const decimalsCacheSize = 1000

// CachedDecimalsLookup wraps a DecimalsLookup with a bounded LRU cache,
// grounded on the teacher lineage's phBodyCache pattern in
// maxbibeau-go-quai/core/worker.go (lru.New sized to a fixed cap, Get/Add
// around a single upstream call). A mint's decimals never change once
// minted, so entries are cached for the process lifetime subject to
// eviction.
type CachedDecimalsLookup struct {
	upstream DecimalsLookup
	cache    *lru.Cache
}

// NewCachedDecimalsLookup constructs a CachedDecimalsLookup around
// upstream. Panics only if the LRU size is invalid, which decimalsCacheSize
// never is.
func NewCachedDecimalsLookup(upstream DecimalsLookup) *CachedDecimalsLookup {
	c, err := lru.New(decimalsCacheSize)
	if err != nil {
		panic(err)
	}
	return &CachedDecimalsLookup{upstream: upstream, cache: c}
}

// Decimals returns mint's decimals, serving from cache when present.
func (c *CachedDecimalsLookup) Decimals(ctx context.Context, mint string) (uint8, error) {
	if v, ok := c.cache.Get(mint); ok {
		return v.(uint8), nil
	}
	d, err := c.upstream.Decimals(ctx, mint)
	if err != nil {
		return 0, err
	}
	c.cache.Add(mint, d)
	return d, nil
}
