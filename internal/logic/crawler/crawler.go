package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"stakedex-indexer-sol/internal/consts"
	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/logic/progress"
	"stakedex-indexer-sol/internal/logic/resolver"
	"stakedex-indexer-sol/internal/metrics"
	"stakedex-indexer-sol/internal/types"
	"stakedex-indexer-sol/pkg/logger"
	"stakedex-indexer-sol/pkg/utils"
)

type SignatureLister interface {
	GetSignaturesForAddress(ctx context.Context, address types.Pubkey, req core.SignaturePageRequest) ([]core.SignatureInfo, error)
}

type TxFetcher interface {
	GetTransaction(ctx context.Context, sig types.Signature) (*core.AdaptedTx, error)
}

type AddressResolver interface {
	Resolve(ctx context.Context, msg *core.Message) (*core.ResolvedMessage, error)
}

type InvocationDecoder interface {
	Decode(tx *core.AdaptedTx, msg *core.ResolvedMessage) []*core.Invocation
}

type InvocationStore interface {
	SaveAll(ctx context.Context, invs []*core.Invocation) error
	EarliestSignature(ctx context.Context) (types.Signature, bool, error)
	LatestSignature(ctx context.Context) (types.Signature, bool, error)
}

// ProgressMarker 记录已处理过的签名，可选
type ProgressMarker interface {
	IsHandled(ctx context.Context, sig types.Signature) (bool, error)
	MarkSigStatus(ctx context.Context, sig types.Signature, status progress.SigStatus) error
	MarkMany(ctx context.Context, sigs []types.Signature, status progress.SigStatus) error
}

// InvocationPublisher 接收已落库的调用记录，可选
type InvocationPublisher interface {
	Publish(ctx context.Context, invs []*core.Invocation) error
}

type Mode string

const (
	// ModeBackfill 从库中最早的签名继续向历史边界回扫
	ModeBackfill Mode = "backfill"
	// ModeCatchup 从链上最新签名回扫到库中最新的签名
	ModeCatchup Mode = "catchup"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBackfill, ModeCatchup:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown crawl mode %q", s)
}

type State int32

const (
	StateIdle State = iota
	StatePaging
	StateDraining
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePaging:
		return "paging"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	Program   types.Pubkey
	Boundary  types.Signature
	Mode      Mode
	PageLimit int
	Workers   int
}

// Deps 为 Crawler 的协作方，Marks / Sink / Metrics 可以为 nil
type Deps struct {
	Lister   SignatureLister
	Fetcher  TxFetcher
	Resolver AddressResolver
	Decoder  InvocationDecoder
	Store    InvocationStore
	Marks    ProgressMarker
	Sink     InvocationPublisher
	Metrics  *metrics.Metrics
}

// Crawler 分页拉取程序的历史签名，逐笔 fetch → resolve → decode → persist。
// 进度不单独保存，每次 Run 从 Store 中的最早/最新签名推导起点。
type Crawler struct {
	opts  Options
	deps  Deps
	state atomic.Int32
}

func New(opts Options, deps Deps) *Crawler {
	if opts.PageLimit <= 0 || opts.PageLimit > consts.MaxSignaturesPageLimit {
		opts.PageLimit = consts.MaxSignaturesPageLimit
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Mode == "" {
		opts.Mode = ModeBackfill
	}
	return &Crawler{opts: opts, deps: deps}
}

func (c *Crawler) State() State {
	return State(c.state.Load())
}

func (c *Crawler) setState(s State) {
	c.state.Store(int32(s))
}

// startRequest 根据模式和库中已有的签名确定第一页的请求
func (c *Crawler) startRequest(ctx context.Context) (core.SignaturePageRequest, error) {
	req := core.SignaturePageRequest{Until: c.opts.Boundary, Limit: c.opts.PageLimit}

	switch c.opts.Mode {
	case ModeBackfill:
		sig, ok, err := c.deps.Store.EarliestSignature(ctx)
		if err != nil {
			return req, fmt.Errorf("load earliest signature: %w", err)
		}
		if ok {
			req.Before = &sig
		}
	case ModeCatchup:
		sig, ok, err := c.deps.Store.LatestSignature(ctx)
		if err != nil {
			return req, fmt.Errorf("load latest signature: %w", err)
		}
		if ok {
			req.Until = sig
		}
	default:
		return req, fmt.Errorf("unknown crawl mode %q", c.opts.Mode)
	}
	return req, nil
}

// Run 执行直到到达边界（返回 nil）、出现致命错误或 ctx 被取消。
// ctx 取消视为正常停止，当前交易处理完后返回 nil。
// 是否为停止只看 ctx 本身，下游返回的 context.Canceled 仍按致命错误处理。
func (c *Crawler) Run(ctx context.Context) error {
	c.setState(StateIdle)
	if ctx.Err() != nil {
		return c.stopped(ctx.Err())
	}
	req, err := c.startRequest(ctx)
	if err != nil {
		return c.abort(err)
	}

	before := "none"
	if req.Before != nil {
		before = req.Before.String()
	}
	logger.Infof("[Crawler:Run] 开始索引, mode=%s, before=%s, until=%s, workers=%d",
		c.opts.Mode, before, req.Until, c.opts.Workers)

	for {
		if ctx.Err() != nil {
			return c.stopped(ctx.Err())
		}

		c.setState(StatePaging)
		page, err := c.deps.Lister.GetSignaturesForAddress(ctx, c.opts.Program, req)
		if err != nil {
			if ctx.Err() != nil {
				return c.stopped(ctx.Err())
			}
			return c.abort(fmt.Errorf("list signatures: %w", err))
		}
		if len(page) == 0 {
			c.setState(StateDone)
			logger.Infof("[Crawler:Run] All transactions indexed, mode=%s", c.opts.Mode)
			return nil
		}

		c.setState(StateDraining)
		if err := c.drain(ctx, page); err != nil {
			if ctx.Err() != nil {
				return c.stopped(ctx.Err())
			}
			return c.abort(err)
		}

		last := page[len(page)-1]
		req.Before = &last.Signature
		c.deps.Metrics.IncPage(last.Slot)
		logger.Debugf("[Crawler:Run] 页处理完成, size=%d, cursor=%s, slot=%d", len(page), last.Signature, last.Slot)
	}
}

func (c *Crawler) abort(err error) error {
	c.setState(StateAborted)
	logger.Errorf("[Crawler:Run] 索引中止: %v", err)
	return err
}

func (c *Crawler) stopped(err error) error {
	c.setState(StateIdle)
	logger.Infof("[Crawler:Run] 收到停止信号, 已停止: %v", err)
	return nil
}

// txResult 是单笔签名在 worker 阶段的处理结果
type txResult struct {
	info   core.SignatureInfo
	invs   []*core.Invocation
	status string
	err    error // 非 nil 表示致命错误
}

// drain 并发执行 fetch/resolve/decode，再按页内顺序单线程落库。
// 被跳过的签名在页末（或中止前）一次性写入进度标记。
func (c *Crawler) drain(ctx context.Context, page []core.SignatureInfo) error {
	results := utils.ParallelMap(page, c.opts.Workers, func(info core.SignatureInfo) txResult {
		return c.process(ctx, info)
	})

	var skipped []types.Signature
	defer func() { c.markSkipped(ctx, skipped) }()

	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.err != nil {
			return r.err
		}
		if err := c.persist(ctx, r); err != nil {
			return err
		}
		if r.status == metrics.SigStatusFailedTx || r.status == metrics.SigStatusUnresolved {
			skipped = append(skipped, r.info.Signature)
		}
	}
	return nil
}

func (c *Crawler) process(ctx context.Context, info core.SignatureInfo) txResult {
	res := txResult{info: info}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}
	if info.Failed {
		res.status = metrics.SigStatusFailedTx
		return res
	}

	if c.deps.Marks != nil {
		handled, err := c.deps.Marks.IsHandled(ctx, info.Signature)
		if err != nil {
			logger.Warnf("[Crawler:process] 读取进度标记失败, tx=%s, err=%v", info.Signature, err)
		} else if handled {
			res.status = metrics.SigStatusMarked
			return res
		}
	}

	start := time.Now()
	defer func() {
		c.deps.Metrics.ObserveTxDuration(time.Since(start).Seconds())
	}()

	tx, err := c.deps.Fetcher.GetTransaction(ctx, info.Signature)
	if err != nil {
		res.err = fmt.Errorf("fetch transaction %s: %w", info.Signature, err)
		return res
	}
	if tx.Failed() {
		res.status = metrics.SigStatusFailedTx
		return res
	}

	msg, err := c.deps.Resolver.Resolve(ctx, &tx.Message)
	if err != nil {
		if errors.Is(err, resolver.ErrIndexOutOfRange) {
			logger.Warnf("[Crawler:process] 地址表解析失败, 跳过交易, tx=%s, err=%v", info.Signature, err)
			res.status = metrics.SigStatusUnresolved
			return res
		}
		res.err = fmt.Errorf("resolve transaction %s: %w", info.Signature, err)
		return res
	}

	res.invs = c.deps.Decoder.Decode(tx, msg)
	res.status = metrics.SigStatusIndexed
	return res
}

func (c *Crawler) persist(ctx context.Context, r txResult) error {
	if len(r.invs) > 0 {
		if err := c.deps.Store.SaveAll(ctx, r.invs); err != nil {
			return fmt.Errorf("persist transaction %s: %w", r.info.Signature, err)
		}
		for _, inv := range r.invs {
			c.deps.Metrics.IncInvocation(inv.Kind.String())
		}
		if c.deps.Sink != nil {
			if err := c.deps.Sink.Publish(ctx, r.invs); err != nil {
				logger.Warnf("[Crawler:persist] 推送失败, tx=%s, err=%v", r.info.Signature, err)
			}
		}
	}
	c.deps.Metrics.IncSignature(r.status)

	switch r.status {
	case metrics.SigStatusIndexed:
		logger.Infof("[Crawler:persist] 已索引, tx=%s, slot=%d, invocations=%d", r.info.Signature, r.info.Slot, len(r.invs))
		c.mark(ctx, r.info.Signature, progress.SigIndexed)
	case metrics.SigStatusFailedTx, metrics.SigStatusUnresolved:
		logger.Debugf("[Crawler:persist] 跳过, tx=%s, reason=%s", r.info.Signature, r.status)
	}
	return nil
}

func (c *Crawler) mark(ctx context.Context, sig types.Signature, status progress.SigStatus) {
	if c.deps.Marks == nil {
		return
	}
	if err := c.deps.Marks.MarkSigStatus(ctx, sig, status); err != nil {
		logger.Warnf("[Crawler:mark] 写入进度标记失败, tx=%s, err=%v", sig, err)
	}
}

func (c *Crawler) markSkipped(ctx context.Context, sigs []types.Signature) {
	if c.deps.Marks == nil || len(sigs) == 0 {
		return
	}
	if err := c.deps.Marks.MarkMany(context.WithoutCancel(ctx), sigs, progress.SigSkipped); err != nil {
		logger.Warnf("[Crawler:markSkipped] 批量写入进度标记失败, count=%d, err=%v", len(sigs), err)
	}
}
