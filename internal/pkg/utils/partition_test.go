package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionForKey(t *testing.T) {
	key := make([]byte, 32)
	key[3], key[11], key[19], key[27] = 0, 0, 0, 7

	assert.Equal(t, int32(7), PartitionForKey(key, 16))
	assert.Equal(t, int32(1), PartitionForKey(key, 3))
	assert.Equal(t, PartitionForKey(key, 16), PartitionForKey(key, 16), "同一 key 分区稳定")

	assert.Equal(t, int32(0), PartitionForKey(key[:20], 16), "key 过短")
	assert.Equal(t, int32(0), PartitionForKey(key, 0))
}
