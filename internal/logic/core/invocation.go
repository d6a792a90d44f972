package core

import (
	"fmt"
	"strconv"
	"strings"

	"stakedex-indexer-sol/internal/types"
)

// InstructionKind 是 stakedex 指令的判别字节
type InstructionKind uint8

const (
	KindStakeWrapSol          InstructionKind = 0
	KindSwapViaStake          InstructionKind = 1
	KindCreateFeeTokenAccount InstructionKind = 2
	KindCloseFeeTokenAccount  InstructionKind = 3
	KindWithdrawFees          InstructionKind = 4
	KindDepositStake          InstructionKind = 5
	KindRecordDex             InstructionKind = 6
)

func (k InstructionKind) String() string {
	switch k {
	case KindStakeWrapSol:
		return "StakeWrapSol"
	case KindSwapViaStake:
		return "SwapViaStake"
	case KindCreateFeeTokenAccount:
		return "CreateFeeTokenAccount"
	case KindCloseFeeTokenAccount:
		return "CloseFeeTokenAccount"
	case KindWithdrawFees:
		return "WithdrawFees"
	case KindDepositStake:
		return "DepositStake"
	case KindRecordDex:
		return "RecordDex"
	default:
		return "Unknown"
	}
}

// ParseInstructionKind 接受名称（不区分大小写）或判别字节
func ParseInstructionKind(s string) (InstructionKind, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return InstructionKind(n), nil
	}
	for k := KindStakeWrapSol; k <= KindRecordDex; k++ {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown instruction kind %q", s)
}

// Invocation 表示一次被识别的 stakedex 指令调用（主指令或 CPI）。
// 唯一键为 (Signature, IxIndex, InnerIndex)。
type Invocation struct {
	Signature  types.Signature `json:"signature" yaml:"signature"`
	Signer     types.Pubkey    `json:"signer" yaml:"signer"`
	Kind       InstructionKind `json:"kind" yaml:"kind"`
	IxIndex    uint16          `json:"ix_index" yaml:"ix_index"`       // 主指令下标
	InnerIndex uint16          `json:"inner_index" yaml:"inner_index"` // 主指令本身为 0，CPI 从 1 开始
	Slot       uint64          `json:"slot" yaml:"slot"`
	BlockTime  int64           `json:"block_time" yaml:"block_time"`
	CpiProgram types.Pubkey    `json:"cpi_program" yaml:"cpi_program"` // 主指令为零值
	AmountIn   uint64          `json:"amount_in" yaml:"amount_in"`
	AmountOut  uint64          `json:"amount_out" yaml:"amount_out"`
	MintIn     types.Pubkey    `json:"mint_in" yaml:"mint_in"`
	MintOut    types.Pubkey    `json:"mint_out" yaml:"mint_out"`
}

func (inv *Invocation) IsCpi() bool {
	return inv.InnerIndex > 0
}
