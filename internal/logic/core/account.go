package core

import "stakedex-indexer-sol/internal/types"

// AccountInfo 是 getAccountInfo 返回的账户快照
type AccountInfo struct {
	Owner types.Pubkey
	Data  []byte
}
