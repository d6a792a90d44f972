package consts

const (
	// MaxSignaturesPageLimit 是 getSignaturesForAddress 单页允许的最大条数
	MaxSignaturesPageLimit = 1000

	// MaxSupportedTxVersion 请求 getTransaction 时支持的最高交易版本（v0）
	MaxSupportedTxVersion uint8 = 0
)
