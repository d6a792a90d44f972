package decoder

import (
	"errors"
	"fmt"
	"runtime/debug"

	"stakedex-indexer-sol/internal/consts"
	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/metrics"
	"stakedex-indexer-sol/internal/types"
	"stakedex-indexer-sol/pkg/logger"
)

var (
	ErrMissingAccount   = errors.New("missing account")
	ErrMissingBalance   = errors.New("missing balance entry")
	ErrMalformedPayload = errors.New("malformed payload")
)

type Decoder struct {
	program types.Pubkey
	metrics *metrics.Metrics
}

// New 创建解析器，program 为被索引的程序地址
func New(program types.Pubkey, m *metrics.Metrics) *Decoder {
	return &Decoder{program: program, metrics: m}
}

// occurrence 是一次指令出现的位置信息
type occurrence struct {
	ixIndex    int
	innerIndex int // 主指令为 0，CPI 从 1 开始
	cpiProgram types.Pubkey
	ix         *core.CompiledInstruction
}

// Decode 遍历主指令及其 CPI 指令，返回识别出的调用记录。
// 单条指令解析失败只记录日志，不影响同一交易中的其他指令。
func (d *Decoder) Decode(tx *core.AdaptedTx, msg *core.ResolvedMessage) []*core.Invocation {
	var out []*core.Invocation
	for i := range msg.Instructions {
		top := &msg.Instructions[i]
		if inv := d.decodeOccurrence(tx, msg, occurrence{ixIndex: i, ix: top}); inv != nil {
			out = append(out, inv)
		}

		inner := tx.InnerInstructionsOf(i)
		if len(inner) == 0 {
			continue
		}
		// CPI 的入口程序即所属主指令的程序
		entry, ok := msg.Key(top.ProgramIDIndex)
		if !ok {
			logger.Warnf("[Decoder:Decode] 主指令程序下标越界: tx=%s, ix=%d", tx.Signature, i)
			continue
		}
		for j := range inner {
			occ := occurrence{ixIndex: i, innerIndex: j + 1, cpiProgram: entry, ix: &inner[j]}
			if inv := d.decodeOccurrence(tx, msg, occ); inv != nil {
				out = append(out, inv)
			}
		}
	}
	return out
}

func (d *Decoder) decodeOccurrence(tx *core.AdaptedTx, msg *core.ResolvedMessage, occ occurrence) (inv *core.Invocation) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Decoder:decodeOccurrence] panic: %v, tx=%s, ix=%d, inner=%d\n%s",
				r, tx.Signature, occ.ixIndex, occ.innerIndex, debug.Stack())
			d.metrics.IncDecodeFailure()
			inv = nil
		}
	}()

	program, ok := msg.Key(occ.ix.ProgramIDIndex)
	if !ok || program != d.program {
		return nil
	}
	if len(occ.ix.Data) == 0 {
		return nil
	}
	desc, ok := dispatch[core.InstructionKind(occ.ix.Data[0])]
	if !ok {
		// 管理类或未知指令
		return nil
	}

	inv, err := d.build(tx, msg, occ, desc)
	if err != nil {
		logger.Warnf("[Decoder:decodeOccurrence] 解析 %s 失败: %v, tx=%s, ix=%d, inner=%d",
			desc.kind, err, tx.Signature, occ.ixIndex, occ.innerIndex)
		d.metrics.IncDecodeFailure()
		return nil
	}
	return inv
}

func (d *Decoder) build(tx *core.AdaptedTx, msg *core.ResolvedMessage, occ occurrence, desc *descriptor) (*core.Invocation, error) {
	ix := occ.ix
	if len(ix.Accounts) < desc.minAccounts {
		return nil, fmt.Errorf("%w: got %d accounts, want >= %d", ErrMissingAccount, len(ix.Accounts), desc.minAccounts)
	}

	signer, err := accountAt(msg, ix, 0)
	if err != nil {
		return nil, err
	}

	amountIn, err := d.amountIn(tx, ix, desc)
	if err != nil {
		return nil, err
	}

	amountOut, err := amountOut(tx, ix, desc.destination)
	if err != nil {
		return nil, err
	}

	mintIn, err := mintAt(msg, ix, desc.mintIn)
	if err != nil {
		return nil, err
	}
	mintOut, err := mintAt(msg, ix, desc.mintOut)
	if err != nil {
		return nil, err
	}

	return &core.Invocation{
		Signature:  tx.Signature,
		Signer:     signer,
		Kind:       desc.kind,
		IxIndex:    uint16(occ.ixIndex),
		InnerIndex: uint16(occ.innerIndex),
		Slot:       tx.Slot,
		BlockTime:  tx.BlockTime,
		CpiProgram: occ.cpiProgram,
		AmountIn:   amountIn,
		AmountOut:  amountOut,
		MintIn:     mintIn,
		MintOut:    mintOut,
	}, nil
}

func (d *Decoder) amountIn(tx *core.AdaptedTx, ix *core.CompiledInstruction, desc *descriptor) (uint64, error) {
	switch desc.amount {
	case amountFromArgs:
		payload := ix.Data[1:]
		if len(payload) < desc.argsSize {
			return 0, fmt.Errorf("%w: args %d bytes, want %d", ErrMalformedPayload, len(payload), desc.argsSize)
		}
		amount, err := desc.parseAmount(payload)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return amount, nil

	case amountFromPreLamports:
		idx, err := accountIndexAt(ix, desc.amountAccount)
		if err != nil {
			return 0, err
		}
		if tx.Meta == nil || int(idx) >= len(tx.Meta.PreBalances) {
			return 0, fmt.Errorf("%w: pre lamports of account index %d", ErrMissingBalance, idx)
		}
		return tx.Meta.PreBalances[idx], nil

	default:
		return 0, fmt.Errorf("unsupported amount source %d", desc.amount)
	}
}

// amountOut 目标 Token 账户的余额增量，post < pre 时取 0。
// 交易内新建的账户没有 pre 记录，按 0 处理；缺少 post 记录视为错误。
func amountOut(tx *core.AdaptedTx, ix *core.CompiledInstruction, position int) (uint64, error) {
	idx, err := accountIndexAt(ix, position)
	if err != nil {
		return 0, err
	}
	if tx.Meta == nil {
		return 0, fmt.Errorf("%w: no meta for token account index %d", ErrMissingBalance, idx)
	}
	post, ok := core.TokenBalanceOf(tx.Meta.PostTokenBalances, idx)
	if !ok {
		return 0, fmt.Errorf("%w: post token balance of account index %d", ErrMissingBalance, idx)
	}
	var preAmount uint64
	if pre, ok := core.TokenBalanceOf(tx.Meta.PreTokenBalances, idx); ok {
		preAmount = pre.Amount
	}
	return SaturatingSub(post.Amount, preAmount), nil
}

// SaturatingSub 返回 max(0, a-b)
func SaturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func accountIndexAt(ix *core.CompiledInstruction, position int) (uint8, error) {
	if position < 0 || position >= len(ix.Accounts) {
		return 0, fmt.Errorf("%w: position %d of %d", ErrMissingAccount, position, len(ix.Accounts))
	}
	return ix.Accounts[position], nil
}

func accountAt(msg *core.ResolvedMessage, ix *core.CompiledInstruction, position int) (types.Pubkey, error) {
	idx, err := accountIndexAt(ix, position)
	if err != nil {
		return types.Pubkey{}, err
	}
	key, ok := msg.Key(idx)
	if !ok {
		return types.Pubkey{}, fmt.Errorf("%w: account index %d beyond %d keys", ErrMissingAccount, idx, len(msg.AccountKeys))
	}
	return key, nil
}

func mintAt(msg *core.ResolvedMessage, ix *core.CompiledInstruction, position int) (types.Pubkey, error) {
	if position == nativeMint {
		return consts.WSOLMint, nil
	}
	return accountAt(msg, ix, position)
}
