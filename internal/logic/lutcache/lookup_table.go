package lutcache

import (
	"fmt"

	"github.com/near/borsh-go"

	"stakedex-indexer-sol/internal/consts"
	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/types"
)

const (
	lookupTableMetaSize = 56
	lookupTableTypeInit = 1
)

// lookupTableMeta 是地址查找表账户的头部（borsh 布局），其后为 32 字节地址序列。
type lookupTableMeta struct {
	TypeIndex                  uint32
	DeactivationSlot           uint64
	LastExtendedSlot           uint64
	LastExtendedSlotStartIndex uint8
	Authority                  *[32]byte // Option<Pubkey>
}

// ParseLookupTable 解析 LUT 账户，返回按顺序排列的地址列表。
// 账户必须归属地址查找表程序。
func ParseLookupTable(account *core.AccountInfo) ([]types.Pubkey, error) {
	if account.Owner != consts.AddressLookupTableProgram {
		return nil, fmt.Errorf("account owner %s is not the address lookup table program", account.Owner)
	}
	data := account.Data
	if len(data) < lookupTableMetaSize {
		return nil, fmt.Errorf("lookup table data too short: %d bytes", len(data))
	}

	var meta lookupTableMeta
	if err := borsh.Deserialize(&meta, data[:lookupTableMetaSize]); err != nil {
		return nil, fmt.Errorf("decode lookup table meta failed: %w", err)
	}
	if meta.TypeIndex != lookupTableTypeInit {
		return nil, fmt.Errorf("account is not an initialized lookup table: type=%d", meta.TypeIndex)
	}

	body := data[lookupTableMetaSize:]
	if len(body)%32 != 0 {
		return nil, fmt.Errorf("lookup table body length %d is not a multiple of 32", len(body))
	}

	addresses := make([]types.Pubkey, len(body)/32)
	for i := range addresses {
		copy(addresses[i][:], body[i*32:(i+1)*32])
	}
	return addresses, nil
}
