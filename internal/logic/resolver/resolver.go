package resolver

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/types"
	"stakedex-indexer-sol/pkg/logger"
)

// ErrIndexOutOfRange 表示消息引用的 LUT 下标超出表长度（刷新后仍然超出），
// 调用方应跳过整笔交易。
var ErrIndexOutOfRange = errors.New("lookup table index out of range")

// TableSource 提供 LUT 地址列表，由 lutcache.Cache 实现
type TableSource interface {
	GetOrFetch(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error)
	Refresh(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error)
}

type Resolver struct {
	tables TableSource
}

func New(tables TableSource) *Resolver {
	return &Resolver{tables: tables}
}

// Resolve 将消息中的 LUT 引用展开为完整账户表。
// 顺序：静态账户，所有表的可写项（按引用顺序），所有表的只读项（按引用顺序）。
func (r *Resolver) Resolve(ctx context.Context, msg *core.Message) (*core.ResolvedMessage, error) {
	if len(msg.LookupTables) == 0 {
		return &core.ResolvedMessage{
			AccountKeys:  msg.StaticKeys,
			Instructions: msg.Instructions,
		}, nil
	}

	loaded := make([][]types.Pubkey, len(msg.LookupTables))
	g, gctx := errgroup.WithContext(ctx)
	for i := range msg.LookupTables {
		g.Go(func() error {
			addrs, err := r.loadTable(gctx, &msg.LookupTables[i])
			if err != nil {
				return err
			}
			loaded[i] = addrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := len(msg.StaticKeys)
	for _, ref := range msg.LookupTables {
		total += len(ref.WritableIndexes) + len(ref.ReadonlyIndexes)
	}
	keys := make([]types.Pubkey, 0, total)
	keys = append(keys, msg.StaticKeys...)
	for i, ref := range msg.LookupTables {
		for _, idx := range ref.WritableIndexes {
			keys = append(keys, loaded[i][idx])
		}
	}
	for i, ref := range msg.LookupTables {
		for _, idx := range ref.ReadonlyIndexes {
			keys = append(keys, loaded[i][idx])
		}
	}

	return &core.ResolvedMessage{
		AccountKeys:  keys,
		Instructions: msg.Instructions,
	}, nil
}

// loadTable 拉取表内容；缓存快照长度不足时刷新一次再校验
func (r *Resolver) loadTable(ctx context.Context, ref *core.LookupTableRef) ([]types.Pubkey, error) {
	addrs, err := r.tables.GetOrFetch(ctx, ref.Table)
	if err != nil {
		return nil, err
	}
	need := maxIndex(ref) + 1
	if need <= len(addrs) {
		return addrs, nil
	}

	logger.Warnf("[Resolver:loadTable] LUT 快照过旧，刷新: table=%s, cached=%d, need=%d", ref.Table, len(addrs), need)
	addrs, err = r.tables.Refresh(ctx, ref.Table)
	if err != nil {
		return nil, err
	}
	if need > len(addrs) {
		return nil, fmt.Errorf("%w: table=%s, len=%d, index=%d", ErrIndexOutOfRange, ref.Table, len(addrs), need-1)
	}
	return addrs, nil
}

func maxIndex(ref *core.LookupTableRef) int {
	m := -1
	for _, idx := range ref.WritableIndexes {
		m = max(m, int(idx))
	}
	for _, idx := range ref.ReadonlyIndexes {
		m = max(m, int(idx))
	}
	return m
}
