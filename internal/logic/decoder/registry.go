package decoder

import (
	"github.com/near/borsh-go"

	"stakedex-indexer-sol/internal/logic/core"
)

// amountSource 决定 amount-in 的取值方式
type amountSource uint8

const (
	amountFromArgs        amountSource = iota // 指令参数中显式给出
	amountFromPreLamports                     // 指定账户执行前的原生余额
)

// nativeMint 表示 mint 取常量 wSOL 而非账户位置
const nativeMint = -1

// descriptor 描述一种可识别指令的解析方式，账户位置均为指令内账户列表的偏移。
type descriptor struct {
	kind          core.InstructionKind
	minAccounts   int
	amount        amountSource
	argsSize      int                                  // 参数结构的字节数
	parseAmount   func(payload []byte) (uint64, error) // amountFromArgs 时使用，payload 不含判别字节
	amountAccount int                                  // amountFromPreLamports 时使用
	destination   int
	mintIn        int
	mintOut       int
}

// StakeWrapSol 账户结构（固定顺序）:
//
// 0 - User（签名者）
// 1 - wSOL From（用户 wSOL 账户）
// 2 - Dest Token To（接收 LST 的账户）
// 3 - wSOL Bridge In
// 4 - SOL Bridge Out
// 5 - Dest Token Fee Token Account
// 6 - Dest Token Mint
// 7 - wSOL Mint
// ...
type stakeWrapSolArgs struct {
	Amount uint64
}

// SwapViaStake 账户结构（固定顺序）:
//
// 0 - User（签名者）
// 1 - Src Token From
// 2 - Dest Token To
// 3 - Bridge Stake
// 4 - Dest Token Fee Token Account
// 5 - Src Token Mint
// 6 - Dest Token Mint
// ...
type swapViaStakeArgs struct {
	Amount          uint64
	BridgeStakeSeed uint32
}

// DepositStake 无参数，amount-in 为 stake 账户执行前的 lamports。账户结构:
//
// 0 - User（签名者）
// 1 - Stake Account
// 2 - Dest Token To
// 3 - Dest Token Fee Token Account
// 4 - Dest Token Mint
// ...

// dispatch 以判别字节为键；管理类指令（2、3、4、6）不在表中，直接跳过
var dispatch = map[core.InstructionKind]*descriptor{
	core.KindStakeWrapSol: {
		kind:        core.KindStakeWrapSol,
		minAccounts: 8,
		amount:      amountFromArgs,
		argsSize:    8,
		parseAmount: func(payload []byte) (uint64, error) {
			var args stakeWrapSolArgs
			if err := borsh.Deserialize(&args, payload); err != nil {
				return 0, err
			}
			return args.Amount, nil
		},
		destination: 2,
		mintIn:      nativeMint,
		mintOut:     6,
	},
	core.KindSwapViaStake: {
		kind:        core.KindSwapViaStake,
		minAccounts: 7,
		amount:      amountFromArgs,
		argsSize:    12,
		parseAmount: func(payload []byte) (uint64, error) {
			var args swapViaStakeArgs
			if err := borsh.Deserialize(&args, payload); err != nil {
				return 0, err
			}
			return args.Amount, nil
		},
		destination: 2,
		mintIn:      5,
		mintOut:     6,
	},
	core.KindDepositStake: {
		kind:          core.KindDepositStake,
		minAccounts:   5,
		amount:        amountFromPreLamports,
		amountAccount: 1,
		destination:   2,
		mintIn:        nativeMint,
		mintOut:       4,
	},
}
