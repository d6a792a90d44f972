package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakedex-indexer-sol/internal/consts"
	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/logic/lutcache"
	"stakedex-indexer-sol/internal/logic/progress"
	"stakedex-indexer-sol/internal/logic/resolver"
	"stakedex-indexer-sol/internal/store"
	"stakedex-indexer-sol/internal/types"
)

// chainSig 生成编号为 n 的签名，n 越大越新
func chainSig(n int) types.Signature {
	var s types.Signature
	s[0] = byte(n >> 8)
	s[1] = byte(n)
	s[63] = 0x5D
	return s
}

// fakeChain 模拟 getSignaturesForAddress / getTransaction：
// sigs 按新到旧排列，slot 随下标递减。
type fakeChain struct {
	mu       sync.Mutex
	sigs     []core.SignatureInfo
	txs      map[types.Signature]*core.AdaptedTx
	requests []core.SignaturePageRequest
	fetched  []types.Signature
	listErr  error
	fetchErr map[types.Signature]error
	// fetchDelay 模拟单笔 getTransaction 的耗时
	fetchDelay map[types.Signature]time.Duration
}

func newFakeChain(n int) *fakeChain {
	c := &fakeChain{
		txs:        map[types.Signature]*core.AdaptedTx{},
		fetchErr:   map[types.Signature]error{},
		fetchDelay: map[types.Signature]time.Duration{},
	}
	for i := n; i >= 1; i-- {
		sig := chainSig(i)
		slot := uint64(1000 + i)
		c.sigs = append(c.sigs, core.SignatureInfo{Signature: sig, Slot: slot})
		c.txs[sig] = &core.AdaptedTx{Signature: sig, Slot: slot, BlockTime: int64(1_700_000_000 + i), Meta: &core.TxMeta{}}
	}
	return c
}

func (c *fakeChain) indexOf(sig types.Signature) int {
	for i, info := range c.sigs {
		if info.Signature == sig {
			return i
		}
	}
	return -1
}

func (c *fakeChain) GetSignaturesForAddress(_ context.Context, _ types.Pubkey, req core.SignaturePageRequest) ([]core.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.listErr != nil {
		return nil, c.listErr
	}

	start := 0
	if req.Before != nil {
		start = c.indexOf(*req.Before) + 1
	}
	var page []core.SignatureInfo
	for i := start; i < len(c.sigs) && len(page) < req.Limit; i++ {
		if c.sigs[i].Signature == req.Until {
			break
		}
		page = append(page, c.sigs[i])
	}
	return page, nil
}

func (c *fakeChain) GetTransaction(_ context.Context, sig types.Signature) (*core.AdaptedTx, error) {
	c.mu.Lock()
	delay := c.fetchDelay[sig]
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = append(c.fetched, sig)
	if err := c.fetchErr[sig]; err != nil {
		return nil, err
	}
	tx, ok := c.txs[sig]
	if !ok {
		return nil, fmt.Errorf("unknown signature %s", sig)
	}
	return tx, nil
}

func (c *fakeChain) fetchedSet() map[types.Signature]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := make(map[types.Signature]bool, len(c.fetched))
	for _, s := range c.fetched {
		set[s] = true
	}
	return set
}

// fakeResolver 对 bad 中的消息返回 ErrIndexOutOfRange
type fakeResolver struct {
	bad map[*core.Message]error
}

func (r *fakeResolver) Resolve(_ context.Context, msg *core.Message) (*core.ResolvedMessage, error) {
	if err := r.bad[msg]; err != nil {
		return nil, err
	}
	return &core.ResolvedMessage{AccountKeys: msg.StaticKeys}, nil
}

// fakeDecoder 每笔交易产生一条记录，silent 中的交易不产生记录
type fakeDecoder struct {
	silent map[types.Signature]bool
}

func (d *fakeDecoder) Decode(tx *core.AdaptedTx, _ *core.ResolvedMessage) []*core.Invocation {
	if d.silent[tx.Signature] {
		return nil
	}
	return []*core.Invocation{{
		Signature: tx.Signature,
		Kind:      core.KindStakeWrapSol,
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
		AmountIn:  1,
		MintIn:    consts.WSOLMint,
	}}
}

type fakeMarks struct {
	mu      sync.Mutex
	handled map[types.Signature]progress.SigStatus
	batches int
}

func (m *fakeMarks) IsHandled(_ context.Context, sig types.Signature) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handled[sig].Handled(), nil
}

func (m *fakeMarks) MarkSigStatus(_ context.Context, sig types.Signature, status progress.SigStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled[sig] = status
	return nil
}

func (m *fakeMarks) MarkMany(_ context.Context, sigs []types.Signature, status progress.SigStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	for _, sig := range sigs {
		m.handled[sig] = status
	}
	return nil
}

type fakeSink struct {
	published []*core.Invocation
	err       error
}

func (s *fakeSink) Publish(_ context.Context, invs []*core.Invocation) error {
	s.published = append(s.published, invs...)
	return s.err
}

type fixture struct {
	chain   *fakeChain
	store   *store.Store
	decoder *fakeDecoder
	res     *fakeResolver
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return &fixture{
		chain:   newFakeChain(n),
		store:   st,
		decoder: &fakeDecoder{silent: map[types.Signature]bool{}},
		res:     &fakeResolver{bad: map[*core.Message]error{}},
	}
}

func (f *fixture) crawler(mode Mode, pageLimit, workers int) *Crawler {
	return New(Options{
		Program:   consts.StakedexProgram,
		Boundary:  consts.BoundarySignature,
		Mode:      mode,
		PageLimit: pageLimit,
		Workers:   workers,
	}, Deps{
		Lister:   f.chain,
		Fetcher:  f.chain,
		Resolver: f.res,
		Decoder:  f.decoder,
		Store:    f.store,
	})
}

func (f *fixture) count(t *testing.T) int64 {
	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestRun_EmptyHistoryIsDone(t *testing.T) {
	f := newFixture(t, 0)
	c := f.crawler(ModeBackfill, 10, 1)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateDone, c.State())
	require.Len(t, f.chain.requests, 1)
	assert.Nil(t, f.chain.requests[0].Before)
	assert.Equal(t, consts.BoundarySignature, f.chain.requests[0].Until)
}

func TestRun_BackfillPagesToBoundary(t *testing.T) {
	f := newFixture(t, 7)
	c := f.crawler(ModeBackfill, 3, 1)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateDone, c.State())
	assert.EqualValues(t, 7, f.count(t))

	// 3 + 3 + 1 + 空页
	require.Len(t, f.chain.requests, 4)
	assert.Nil(t, f.chain.requests[0].Before)
	assert.Equal(t, chainSig(5), *f.chain.requests[1].Before)
	assert.Equal(t, chainSig(2), *f.chain.requests[2].Before)
	assert.Equal(t, chainSig(1), *f.chain.requests[3].Before)
	for _, req := range f.chain.requests {
		assert.Equal(t, 3, req.Limit)
	}
}

func TestRun_BackfillResumesFromEarliest(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	// 之前的运行已经落库 6..4
	for _, n := range []int{6, 5, 4} {
		tx := f.chain.txs[chainSig(n)]
		require.NoError(t, f.store.SaveAll(ctx, f.decoder.Decode(tx, nil)))
	}

	c := f.crawler(ModeBackfill, 10, 1)
	require.NoError(t, c.Run(ctx))

	assert.Equal(t, chainSig(4), *f.chain.requests[0].Before)
	fetched := f.chain.fetchedSet()
	assert.Len(t, fetched, 3)
	for _, n := range []int{3, 2, 1} {
		assert.True(t, fetched[chainSig(n)])
	}
	assert.EqualValues(t, 6, f.count(t))
}

func TestRun_CatchupConverges(t *testing.T) {
	f := newFixture(t, 8)
	ctx := context.Background()
	// 库里已有 5..1，链上新增 8..6
	for n := 5; n >= 1; n-- {
		tx := f.chain.txs[chainSig(n)]
		require.NoError(t, f.store.SaveAll(ctx, f.decoder.Decode(tx, nil)))
	}

	c := f.crawler(ModeCatchup, 2, 1)
	require.NoError(t, c.Run(ctx))
	assert.Equal(t, StateDone, c.State())

	for _, req := range f.chain.requests {
		assert.Equal(t, chainSig(5), req.Until)
	}
	fetched := f.chain.fetchedSet()
	assert.Len(t, fetched, 3)
	for n := 5; n >= 1; n-- {
		assert.False(t, fetched[chainSig(n)], "already stored signature %d refetched", n)
	}
	assert.EqualValues(t, 8, f.count(t))

	latest, ok, err := f.store.LatestSignature(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chainSig(8), latest)

	// 再次运行立即结束，且不拉取任何交易
	before := len(f.chain.fetched)
	require.NoError(t, f.crawler(ModeCatchup, 2, 1).Run(ctx))
	assert.Len(t, f.chain.fetched, before)
}

func TestRun_SkipsFailedTransactions(t *testing.T) {
	f := newFixture(t, 4)
	f.chain.sigs[1].Failed = true                              // sig 3 在列表中标记失败
	f.chain.txs[chainSig(2)].Meta = &core.TxMeta{Failed: true} // sig 2 的 meta 标记失败

	c := f.crawler(ModeBackfill, 10, 1)
	require.NoError(t, c.Run(context.Background()))

	fetched := f.chain.fetchedSet()
	assert.False(t, fetched[chainSig(3)], "failed signature must not be fetched")
	assert.True(t, fetched[chainSig(2)])
	assert.EqualValues(t, 2, f.count(t))
}

func TestRun_CursorAdvancesWithoutInvocations(t *testing.T) {
	f := newFixture(t, 5)
	for n := 5; n >= 1; n-- {
		f.decoder.silent[chainSig(n)] = true
	}

	c := f.crawler(ModeBackfill, 2, 1)
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateDone, c.State())
	assert.EqualValues(t, 0, f.count(t))
	require.Len(t, f.chain.requests, 4)
	assert.Equal(t, chainSig(1), *f.chain.requests[3].Before)
}

func TestRun_UnresolvableTransactionIsSkipped(t *testing.T) {
	f := newFixture(t, 3)
	bad := f.chain.txs[chainSig(2)]
	f.res.bad[&bad.Message] = fmt.Errorf("table X: %w", resolver.ErrIndexOutOfRange)

	c := f.crawler(ModeBackfill, 10, 1)
	require.NoError(t, c.Run(context.Background()))
	assert.EqualValues(t, 2, f.count(t))
}

func TestRun_ResolverTransportErrorAborts(t *testing.T) {
	f := newFixture(t, 3)
	bad := f.chain.txs[chainSig(2)]
	f.res.bad[&bad.Message] = errors.New("connection reset")

	c := f.crawler(ModeBackfill, 10, 1)
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, StateAborted, c.State())
	// sig 3 在失败前已落库
	assert.EqualValues(t, 1, f.count(t))
}

func TestRun_ListErrorAborts(t *testing.T) {
	f := newFixture(t, 3)
	f.chain.listErr = errors.New("rpc unavailable")

	c := f.crawler(ModeBackfill, 10, 1)
	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "rpc unavailable")
	assert.Equal(t, StateAborted, c.State())
}

func TestRun_FetchErrorAbortsKeepingEarlierRows(t *testing.T) {
	f := newFixture(t, 5)
	f.chain.fetchErr[chainSig(3)] = errors.New("timeout")

	c := f.crawler(ModeBackfill, 10, 4)
	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "timeout")
	assert.Equal(t, StateAborted, c.State())

	// 只有页内排在失败签名之前的交易被落库
	rows, err := f.store.List(context.Background(), store.Filter{Limit: 10})
	require.NoError(t, err)
	got := map[types.Signature]bool{}
	for _, inv := range rows {
		got[inv.Signature] = true
	}
	assert.Equal(t, map[types.Signature]bool{chainSig(5): true, chainSig(4): true}, got)
}

func TestRun_WorkersPersistInPageOrder(t *testing.T) {
	f := newFixture(t, 20)
	c := f.crawler(ModeBackfill, 6, 4)

	require.NoError(t, c.Run(context.Background()))
	assert.EqualValues(t, 20, f.count(t))

	earliest, ok, err := f.store.EarliestSignature(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chainSig(1), earliest)
}

func TestRun_CancelledContextStopsCleanly(t *testing.T) {
	f := newFixture(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := f.crawler(ModeBackfill, 10, 1)
	assert.NoError(t, c.Run(ctx))
	assert.Empty(t, f.chain.fetched)
	assert.EqualValues(t, 0, f.count(t))
}

func TestRun_ProgressMarksSkipHandledSignatures(t *testing.T) {
	f := newFixture(t, 4)
	marks := &fakeMarks{handled: map[types.Signature]progress.SigStatus{
		chainSig(4): progress.SigIndexed,
	}}
	f.chain.sigs[2].Failed = true // sig 2
	sink := &fakeSink{err: errors.New("kafka down")}

	c := f.crawler(ModeBackfill, 10, 1)
	c.deps.Marks = marks
	c.deps.Sink = sink
	require.NoError(t, c.Run(context.Background()))

	assert.False(t, f.chain.fetchedSet()[chainSig(4)])
	assert.EqualValues(t, 2, f.count(t))
	assert.Len(t, sink.published, 2, "sink errors are not fatal")

	assert.Equal(t, progress.SigIndexed, marks.handled[chainSig(3)])
	assert.Equal(t, progress.SigSkipped, marks.handled[chainSig(2)])
	assert.Equal(t, progress.SigIndexed, marks.handled[chainSig(1)])
	assert.Equal(t, 1, marks.batches, "跳过的签名按页批量标记")
}

func TestRun_SkippedMarksBatchedPerPage(t *testing.T) {
	f := newFixture(t, 5)
	marks := &fakeMarks{handled: map[types.Signature]progress.SigStatus{}}
	f.chain.sigs[0].Failed = true // sig 5
	f.chain.sigs[3].Failed = true // sig 2
	bad := f.chain.txs[chainSig(4)]
	f.res.bad[&bad.Message] = fmt.Errorf("table X: %w", resolver.ErrIndexOutOfRange)

	c := f.crawler(ModeBackfill, 3, 2)
	c.deps.Marks = marks
	require.NoError(t, c.Run(context.Background()))

	// 第一页 5,4,3 跳过两笔，第二页 2,1 跳过一笔
	assert.Equal(t, 2, marks.batches)
	for _, n := range []int{5, 4, 2} {
		assert.Equal(t, progress.SigSkipped, marks.handled[chainSig(n)], "sig %d", n)
	}
	assert.Equal(t, progress.SigIndexed, marks.handled[chainSig(3)])
	assert.Equal(t, progress.SigIndexed, marks.handled[chainSig(1)])
}

func TestRun_SkippedMarksFlushedOnAbort(t *testing.T) {
	f := newFixture(t, 3)
	marks := &fakeMarks{handled: map[types.Signature]progress.SigStatus{}}
	f.chain.sigs[0].Failed = true // sig 3
	f.chain.fetchErr[chainSig(2)] = errors.New("timeout")

	c := f.crawler(ModeBackfill, 10, 1)
	c.deps.Marks = marks
	require.Error(t, c.Run(context.Background()))

	assert.Equal(t, progress.SigSkipped, marks.handled[chainSig(3)])
	assert.Equal(t, 1, marks.batches)
}

func TestRun_DownstreamCanceledErrorAborts(t *testing.T) {
	f := newFixture(t, 3)
	f.chain.fetchErr[chainSig(2)] = fmt.Errorf("rpc: %w", context.Canceled)

	c := f.crawler(ModeBackfill, 10, 2)
	err := c.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, c.State(), "ctx 未取消时不能当作正常停止")
}

// lutFetcher 按表返回 LUT 账户，拉取耗时可配置并响应 ctx 取消
type lutFetcher struct {
	tables map[types.Pubkey][]types.Pubkey
	delays map[types.Pubkey]time.Duration
	calls  sync.Map // types.Pubkey -> *atomic.Int32
}

func (l *lutFetcher) GetAccountInfo(ctx context.Context, address types.Pubkey) (*core.AccountInfo, error) {
	n, _ := l.calls.LoadOrStore(address, new(atomic.Int32))
	n.(*atomic.Int32).Add(1)

	select {
	case <-time.After(l.delays[address]):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	addrs, ok := l.tables[address]
	if !ok {
		return nil, fmt.Errorf("account %s not found", address)
	}
	data := make([]byte, 56, 56+32*len(addrs))
	data[0] = 1 // 已初始化
	for _, a := range addrs {
		data = append(data, a[:]...)
	}
	return &core.AccountInfo{Owner: consts.AddressLookupTableProgram, Data: data}, nil
}

func (l *lutFetcher) callsFor(table types.Pubkey) int32 {
	n, ok := l.calls.Load(table)
	if !ok {
		return 0
	}
	return n.(*atomic.Int32).Load()
}

func pubkeyN(n byte) types.Pubkey {
	var p types.Pubkey
	p[0] = n
	p[31] = 0xAB
	return p
}

func TestRun_SharedTableSurvivesSiblingResolveFailure(t *testing.T) {
	f := newFixture(t, 2)
	shared, short := pubkeyN(1), pubkeyN(2)
	fetcher := &lutFetcher{
		tables: map[types.Pubkey][]types.Pubkey{
			shared: {pubkeyN(10), pubkeyN(11)},
			short:  {pubkeyN(20)},
		},
		delays: map[types.Pubkey]time.Duration{
			shared: 200 * time.Millisecond,
			short:  30 * time.Millisecond,
		},
	}

	// sig 2 同时引用共享表和一张长度不足的表；sig 1 只引用共享表
	txA := f.chain.txs[chainSig(2)]
	txA.Message = core.Message{
		StaticKeys: []types.Pubkey{pubkeyN(9)},
		LookupTables: []core.LookupTableRef{
			{Table: shared, WritableIndexes: []uint8{0}},
			{Table: short, ReadonlyIndexes: []uint8{5}},
		},
	}
	txB := f.chain.txs[chainSig(1)]
	txB.Message = core.Message{
		StaticKeys:   []types.Pubkey{pubkeyN(9)},
		LookupTables: []core.LookupTableRef{{Table: shared, ReadonlyIndexes: []uint8{1}}},
	}
	// sig 1 稍晚进入，加入 sig 2 发起的共享表拉取
	f.chain.fetchDelay[chainSig(1)] = 20 * time.Millisecond

	c := f.crawler(ModeBackfill, 10, 2)
	c.deps.Resolver = resolver.New(lutcache.New(fetcher, nil))
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateDone, c.State())

	rows, err := f.store.List(context.Background(), store.Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1, "只有 sig 2 因越界被跳过")
	assert.Equal(t, chainSig(1), rows[0].Signature)
	assert.Equal(t, int32(1), fetcher.callsFor(shared), "共享表只拉取一次")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("catchup")
	require.NoError(t, err)
	assert.Equal(t, ModeCatchup, m)

	_, err = ParseMode("forward")
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Options{PageLimit: 5000}, Deps{})
	assert.Equal(t, consts.MaxSignaturesPageLimit, c.opts.PageLimit)
	assert.Equal(t, 1, c.opts.Workers)
	assert.Equal(t, ModeBackfill, c.opts.Mode)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "aborted", StateAborted.String())
}
