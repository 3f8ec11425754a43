package reputation

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AggregateCache 按 (network, provider) 缓存评分汇总。
type AggregateCache interface {
	Get(ctx context.Context, network string, provider common.Address) (Aggregate, bool, error)
	Set(ctx context.Context, network string, provider common.Address, agg Aggregate) error
	Delete(ctx context.Context, network string, provider common.Address) error
	Clear(ctx context.Context) error
}

// CacheKey 返回缓存使用的规范化键。
func CacheKey(network string, provider common.Address) string {
	return network + ":" + strings.ToLower(provider.Hex())
}

// MemoryCache 是进程内的 AggregateCache 实现。
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]Aggregate
}

// NewMemoryCache 创建空缓存。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]Aggregate)}
}

// Get 实现 AggregateCache。
func (m *MemoryCache) Get(_ context.Context, network string, provider common.Address) (Aggregate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.items[CacheKey(network, provider)]
	return agg, ok, nil
}

// Set 实现 AggregateCache。
func (m *MemoryCache) Set(_ context.Context, network string, provider common.Address, agg Aggregate) error {
	m.mu.Lock()
	m.items[CacheKey(network, provider)] = agg
	m.mu.Unlock()
	return nil
}

// Delete 实现 AggregateCache。
func (m *MemoryCache) Delete(_ context.Context, network string, provider common.Address) error {
	m.mu.Lock()
	delete(m.items, CacheKey(network, provider))
	m.mu.Unlock()
	return nil
}

// Clear 实现 AggregateCache。
func (m *MemoryCache) Clear(context.Context) error {
	m.mu.Lock()
	m.items = make(map[string]Aggregate)
	m.mu.Unlock()
	return nil
}

var _ AggregateCache = (*MemoryCache)(nil)
