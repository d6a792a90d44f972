package lutcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/metrics"
	"stakedex-indexer-sol/internal/types"
	"stakedex-indexer-sol/pkg/logger"
)

// fetchTimeout 限制脱离调用方 ctx 的共享拉取
const fetchTimeout = 30 * time.Second

// AccountFetcher 拉取账户的 owner 和原始数据
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, address types.Pubkey) (*core.AccountInfo, error)
}

// Cache 是进程内共享的 LUT 缓存，表地址 → 地址列表，不设过期。
// 读取持读锁并发执行；未命中时同一张表的并发请求只触发一次远程拉取。
type Cache struct {
	fetcher AccountFetcher
	metrics *metrics.Metrics

	mu     sync.RWMutex
	tables map[types.Pubkey][]types.Pubkey
	group  singleflight.Group
}

func New(fetcher AccountFetcher, m *metrics.Metrics) *Cache {
	return &Cache{
		fetcher: fetcher,
		metrics: m,
		tables:  make(map[types.Pubkey][]types.Pubkey),
	}
}

func (c *Cache) get(table types.Pubkey) ([]types.Pubkey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addrs, ok := c.tables[table]
	return addrs, ok
}

// GetOrFetch 返回缓存中的地址列表，未命中时拉取并写入缓存
func (c *Cache) GetOrFetch(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error) {
	if addrs, ok := c.get(table); ok {
		c.metrics.IncLutLookup(metrics.LutHit)
		return addrs, nil
	}
	c.metrics.IncLutLookup(metrics.LutMiss)
	return c.load(ctx, table, false)
}

// Refresh 强制重新拉取并替换缓存条目。LUT 只会追加，刷新后长度不会变短。
func (c *Cache) Refresh(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error) {
	c.metrics.IncLutLookup(metrics.LutRefresh)
	return c.load(ctx, table, true)
}

// load 合并同一张表的并发拉取。共享的拉取不随任何一个调用方的 ctx 取消，
// 每个调用方只在自己的 ctx 结束时提前返回。
func (c *Cache) load(ctx context.Context, table types.Pubkey, force bool) ([]types.Pubkey, error) {
	key := table.String()
	if force {
		key = "refresh:" + key
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if !force {
			if addrs, ok := c.get(table); ok {
				return addrs, nil
			}
		}

		fetchCtx, cancel := context.WithTimeout(detached, fetchTimeout)
		defer cancel()
		account, err := c.fetcher.GetAccountInfo(fetchCtx, table)
		if err != nil {
			return nil, fmt.Errorf("fetch lookup table %s failed: %w", table, err)
		}
		addrs, err := ParseLookupTable(account)
		if err != nil {
			return nil, fmt.Errorf("parse lookup table %s failed: %w", table, err)
		}

		c.mu.Lock()
		c.tables[table] = addrs
		c.mu.Unlock()

		logger.Debugf("[LutCache:load] 缓存 LUT table=%s, size=%d, refresh=%v", table, len(addrs), force)
		return addrs, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]types.Pubkey), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len 返回已缓存的表数量
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}
