package core

import "stakedex-indexer-sol/internal/types"

// SignaturePageRequest 是 getSignaturesForAddress 的分页参数，按时间倒序返回
type SignaturePageRequest struct {
	Before *types.Signature // 为 nil 时从最新交易开始
	Until  types.Signature  // 不越过该签名
	Limit  int
}

// SignatureInfo 是分页结果中的一项
type SignatureInfo struct {
	Signature types.Signature
	Slot      uint64
	Failed    bool // 链上执行失败
}
