package core

import (
	"stakedex-indexer-sol/internal/types"
)

// CompiledInstruction 是消息中的一条原始指令，程序与账户均以账户表下标引用。
type CompiledInstruction struct {
	ProgramIDIndex uint8   // 程序在账户表中的下标
	Accounts       []uint8 // 账户下标列表，保持原始顺序
	Data           []byte  // 指令原始数据，首字节为判别字节
}

// LookupTableRef 表示 v0 消息对某个地址查找表（LUT）的引用。
type LookupTableRef struct {
	Table           types.Pubkey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Message 是尚未解析 LUT 的交易消息。legacy 消息的 LookupTables 为空。
type Message struct {
	StaticKeys   []types.Pubkey
	Instructions []CompiledInstruction
	LookupTables []LookupTableRef
}

// InnerInstructionSet 表示某条主指令执行期间产生的 CPI 指令。
type InnerInstructionSet struct {
	Index        uint8 // 所属主指令的下标
	Instructions []CompiledInstruction
}

// TokenBalance 是交易元数据中的一条 SPL Token 余额快照，按账户下标索引。
type TokenBalance struct {
	AccountIndex uint8
	Mint         types.Pubkey
	Amount       uint64 // 最小单位
}

// TxMeta 是交易执行结果的元数据。
type TxMeta struct {
	Failed            bool
	PreBalances       []uint64 // 原生 SOL 余额（lamports），按账户下标
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	InnerInstructions []InnerInstructionSet
}

// AdaptedTx 是从 RPC 结果转换而来的交易，是解析流程的输入。
type AdaptedTx struct {
	Signature types.Signature
	Slot      uint64
	BlockTime int64 // Unix 秒，节点未返回时为 0
	Message   Message
	Meta      *TxMeta // 可能为 nil，视为执行成功且无余额信息
}

// Failed 无 meta 时按成功处理
func (tx *AdaptedTx) Failed() bool {
	return tx.Meta != nil && tx.Meta.Failed
}

// InnerInstructionsOf 返回第 ixIndex 条主指令下的 CPI 指令列表
func (tx *AdaptedTx) InnerInstructionsOf(ixIndex int) []CompiledInstruction {
	if tx.Meta == nil {
		return nil
	}
	for _, set := range tx.Meta.InnerInstructions {
		if int(set.Index) == ixIndex {
			return set.Instructions
		}
	}
	return nil
}

// TokenBalanceOf 在余额列表中按账户下标查找
func TokenBalanceOf(balances []TokenBalance, accountIndex uint8) (TokenBalance, bool) {
	for _, b := range balances {
		if b.AccountIndex == accountIndex {
			return b, true
		}
	}
	return TokenBalance{}, false
}

// ResolvedMessage 是完成 LUT 解析后的消息，AccountKeys 的顺序为
// 静态账户 → 全部 LUT 的可写账户 → 全部 LUT 的只读账户。
type ResolvedMessage struct {
	AccountKeys  []types.Pubkey
	Instructions []CompiledInstruction
}

// Key 返回下标对应的账户地址
func (m *ResolvedMessage) Key(index uint8) (types.Pubkey, bool) {
	if int(index) >= len(m.AccountKeys) {
		return types.Pubkey{}, false
	}
	return m.AccountKeys[index], true
}
