package consts

import "stakedex-indexer-sol/internal/types"

// Base58 地址常量（可读性高，适合配置与日志使用）
const (
	// Programs
	AddressLookupTableProgramStr = "AddressLookupTab1e1111111111111111111111111"

	// stakedex 主程序（索引目标）
	StakedexProgramStr = "stkitrT1Uoy18Dk1fTrgPw8W6MVzoCfYoAFT4MLsmhq"

	WSOLMintStr = "So11111111111111111111111111111111111111112"
)

// BoundarySignatureStr 是索引的最早边界：该交易之前的历史不再回溯。
const BoundarySignatureStr = "3w9f8YnD8G4ktry66qEYJFYmdSGiNviqdJ5CMv35hAhzXHE9Ub1pzWwTFvidnZ9bWgdPBWEgHfhM3ecmSGEwNASP"

var (
	AddressLookupTableProgram = types.PubkeyFromBase58(AddressLookupTableProgramStr)
	StakedexProgram           = types.PubkeyFromBase58(StakedexProgramStr)

	// 原生 SOL 在记录中统一以 wSOL mint 表示
	WSOLMint = types.PubkeyFromBase58(WSOLMintStr)

	BoundarySignature = types.MustSignatureFromBase58(BoundarySignatureStr)
)
