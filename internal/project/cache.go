package project

import (
	"sync"

	"CreatorServices/internal/observability/metrics"

	"github.com/ethereum/go-ethereum/common"
)

type viewKey struct {
	network string
	account common.Address
	role    Role
}

// stamp identifies the invalidation generation a scan started under.
type stamp struct {
	epoch uint64
	gen   uint64
}

// viewCache holds one Buckets per (network, account, role). Views are only
// ever replaced whole. A scan result is stored only if no invalidation
// touched its account since the scan started.
type viewCache struct {
	mu    sync.Mutex
	epoch uint64
	gens  map[common.Address]uint64
	views map[viewKey]Buckets
}

func newViewCache() *viewCache {
	return &viewCache{
		gens:  make(map[common.Address]uint64),
		views: make(map[viewKey]Buckets),
	}
}

func (c *viewCache) lookup(key viewKey) (Buckets, stamp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := stamp{epoch: c.epoch, gen: c.gens[key.account]}
	view, ok := c.views[key]
	if ok {
		metrics.ObserveCache("agreements", "hit")
	} else {
		metrics.ObserveCache("agreements", "miss")
	}
	return view, current, ok
}

func (c *viewCache) store(key viewKey, at stamp, view Buckets) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if at.epoch != c.epoch || at.gen != c.gens[key.account] {
		metrics.ObserveCache("agreements", "discard")
		return false
	}
	c.views[key] = view
	return true
}

func (c *viewCache) invalidate(accounts ...common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, account := range accounts {
		c.gens[account]++
		for key := range c.views {
			if key.account == account {
				delete(c.views, key)
			}
		}
	}
	metrics.ObserveCache("agreements", "invalidate")
}

func (c *viewCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.views = make(map[viewKey]Buckets)
	metrics.ObserveCache("agreements", "invalidate_all")
}
