package utils

// PartitionForKey 从 key 中选取 4 个字节组成 uint32 再对分区数取模，同一 key 总是落在同一分区。
// 非加密哈希，key 为地址或签名这类本身均匀分布的数据。
func PartitionForKey(key []byte, partitions int32) int32 {
	if len(key) < 28 || partitions <= 0 {
		return 0
	}
	hash := uint32(key[3])<<24 | uint32(key[11])<<16 | uint32(key[19])<<8 | uint32(key[27])
	return int32(hash % uint32(partitions))
}
