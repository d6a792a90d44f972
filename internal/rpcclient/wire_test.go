package rpcclient

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakedex-indexer-sol/internal/consts"
	itypes "stakedex-indexer-sol/internal/types"
)

const metaFixture = `{
	"err": null,
	"preBalances": [2000000000, 0, 2039280],
	"postBalances": [1995000000, 0, 2039280],
	"preTokenBalances": [],
	"postTokenBalances": [
		{"accountIndex": 2, "mint": "So11111111111111111111111111111111111111112", "uiTokenAmount": {"amount": "1869636257", "decimals": 9}}
	],
	"innerInstructions": [
		{"index": 1, "instructions": [{"programIdIndex": 3, "accounts": [0, 2], "data": "%s"}]}
	]
}`

func TestToMeta(t *testing.T) {
	data := base58.Encode([]byte{1, 2, 3})
	var w wireMeta
	require.NoError(t, json.Unmarshal([]byte(fmt.Sprintf(metaFixture, data)), &w))

	meta, err := toMeta(&w)
	require.NoError(t, err)
	assert.False(t, meta.Failed)
	assert.Equal(t, []uint64{2000000000, 0, 2039280}, meta.PreBalances)
	assert.Empty(t, meta.PreTokenBalances)
	require.Len(t, meta.PostTokenBalances, 1)
	assert.Equal(t, uint8(2), meta.PostTokenBalances[0].AccountIndex)
	assert.Equal(t, uint64(1869636257), meta.PostTokenBalances[0].Amount)
	assert.Equal(t, consts.WSOLMint, meta.PostTokenBalances[0].Mint)

	require.Len(t, meta.InnerInstructions, 1)
	set := meta.InnerInstructions[0]
	assert.Equal(t, uint8(1), set.Index)
	assert.Equal(t, uint8(3), set.Instructions[0].ProgramIDIndex)
	assert.Equal(t, []uint8{0, 2}, set.Instructions[0].Accounts)
	assert.Equal(t, []byte{1, 2, 3}, set.Instructions[0].Data)
}

func TestToMetaFailedTx(t *testing.T) {
	var w wireMeta
	require.NoError(t, json.Unmarshal([]byte(`{"err": {"InstructionError": [0, "Custom"]}}`), &w))
	meta, err := toMeta(&w)
	require.NoError(t, err)
	assert.True(t, meta.Failed)
}

func TestToMetaRejectsBadAmount(t *testing.T) {
	var w wireMeta
	require.NoError(t, json.Unmarshal([]byte(`{"err": null, "postTokenBalances": [
		{"accountIndex": 2, "mint": "So11111111111111111111111111111111111111112", "uiTokenAmount": {"amount": "-1"}}
	]}`), &w))
	_, err := toMeta(&w)
	assert.Error(t, err)
}

func TestDecodeTxBytes(t *testing.T) {
	data, err := decodeTxBytes(json.RawMessage(`["AQID", "base64"]`))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = decodeTxBytes(json.RawMessage(`["AQID", "base58"]`))
	assert.Error(t, err)
	_, err = decodeTxBytes(json.RawMessage(`{"message": {}}`))
	assert.Error(t, err)
}

func TestToMessage(t *testing.T) {
	user := common.PublicKeyFromString("So11111111111111111111111111111111111111112")
	program := common.PublicKeyFromString(consts.StakedexProgramStr)
	table := common.PublicKeyFromString(consts.AddressLookupTableProgramStr)

	msg, err := toMessage(types.Message{
		Accounts: []common.PublicKey{user, program},
		Instructions: []types.CompiledInstruction{
			{ProgramIDIndex: 1, Accounts: []int{0, 2, 3}, Data: []byte{1}},
		},
		AddressLookupTables: []types.CompiledAddressLookupTable{
			{AccountKey: table, WritableIndexes: []uint8{4}, ReadonlyIndexes: []uint8{7}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []itypes.Pubkey{itypes.Pubkey(user), consts.StakedexProgram}, msg.StaticKeys)
	require.Len(t, msg.Instructions, 1)
	assert.Equal(t, []uint8{0, 2, 3}, msg.Instructions[0].Accounts)
	require.Len(t, msg.LookupTables, 1)
	assert.Equal(t, consts.AddressLookupTableProgram, msg.LookupTables[0].Table)
	assert.Equal(t, []uint8{4}, msg.LookupTables[0].WritableIndexes)

	_, err = toMessage(types.Message{
		Instructions: []types.CompiledInstruction{{ProgramIDIndex: 300}},
	})
	assert.Error(t, err)
}
