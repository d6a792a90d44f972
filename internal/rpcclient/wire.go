package rpcclient

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"

	"stakedex-indexer-sol/internal/logic/core"
	itypes "stakedex-indexer-sol/internal/types"
)

// getTransaction 返回值的 JSON 结构（base64 编码）。
// SDK 中 transaction / innerInstructions 为 any，统一经 JSON 转换为下面的结构。
type wireTx struct {
	Slot        uint64          `json:"slot"`
	BlockTime   *int64          `json:"blockTime"`
	Transaction json.RawMessage `json:"transaction"`
	Meta        *wireMeta       `json:"meta"`
}

type wireMeta struct {
	Err               json.RawMessage    `json:"err"`
	PreBalances       []uint64           `json:"preBalances"`
	PostBalances      []uint64           `json:"postBalances"`
	PreTokenBalances  []wireTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []wireTokenBalance `json:"postTokenBalances"`
	InnerInstructions []wireInnerSet     `json:"innerInstructions"`
}

type wireTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	UITokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

type wireInnerSet struct {
	Index        int               `json:"index"`
	Instructions []wireInstruction `json:"instructions"`
}

// 注意 accounts 为数字数组，不能直接用 []uint8（会被当作 base64 字符串）
type wireInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"` // base58
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// toAdaptedTx 将 JSON 结构与签名组装为 core.AdaptedTx
func toAdaptedTx(sig itypes.Signature, w *wireTx) (*core.AdaptedTx, error) {
	raw, err := decodeTxBytes(w.Transaction)
	if err != nil {
		return nil, err
	}
	tx, err := types.TransactionDeserialize(raw)
	if err != nil {
		return nil, fmt.Errorf("deserialize transaction failed: %w", err)
	}
	msg, err := toMessage(tx.Message)
	if err != nil {
		return nil, err
	}

	out := &core.AdaptedTx{
		Signature: sig,
		Slot:      w.Slot,
		Message:   msg,
	}
	if w.BlockTime != nil {
		out.BlockTime = *w.BlockTime
	}
	if w.Meta != nil {
		meta, err := toMeta(w.Meta)
		if err != nil {
			return nil, err
		}
		out.Meta = meta
	}
	return out, nil
}

// decodeTxBytes 解析 ["<base64>", "base64"] 形式的交易数据
func decodeTxBytes(raw json.RawMessage) ([]byte, error) {
	var parts []string
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("unexpected transaction encoding: %w", err)
	}
	if len(parts) != 2 || parts[1] != "base64" {
		return nil, fmt.Errorf("unexpected transaction encoding: %v", parts)
	}
	data, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode base64 transaction failed: %w", err)
	}
	return data, nil
}

func toMessage(m types.Message) (core.Message, error) {
	msg := core.Message{
		StaticKeys:   make([]itypes.Pubkey, len(m.Accounts)),
		Instructions: make([]core.CompiledInstruction, len(m.Instructions)),
	}
	for i, k := range m.Accounts {
		msg.StaticKeys[i] = itypes.Pubkey(k)
	}
	for i, ix := range m.Instructions {
		ci, err := toInstruction(ix.ProgramIDIndex, ix.Accounts, ix.Data)
		if err != nil {
			return core.Message{}, fmt.Errorf("instruction %d: %w", i, err)
		}
		msg.Instructions[i] = ci
	}
	for _, lut := range m.AddressLookupTables {
		msg.LookupTables = append(msg.LookupTables, core.LookupTableRef{
			Table:           itypes.Pubkey(lut.AccountKey),
			WritableIndexes: append([]uint8(nil), lut.WritableIndexes...),
			ReadonlyIndexes: append([]uint8(nil), lut.ReadonlyIndexes...),
		})
	}
	return msg, nil
}

func toInstruction(programIDIndex int, accounts []int, data []byte) (core.CompiledInstruction, error) {
	idx, err := toIndex(programIDIndex)
	if err != nil {
		return core.CompiledInstruction{}, fmt.Errorf("program id index: %w", err)
	}
	ci := core.CompiledInstruction{
		ProgramIDIndex: idx,
		Accounts:       make([]uint8, len(accounts)),
		Data:           data,
	}
	for j, a := range accounts {
		if ci.Accounts[j], err = toIndex(a); err != nil {
			return core.CompiledInstruction{}, fmt.Errorf("account %d: %w", j, err)
		}
	}
	return ci, nil
}

func toIndex(v int) (uint8, error) {
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("account index %d out of range", v)
	}
	return uint8(v), nil
}

func toMeta(w *wireMeta) (*core.TxMeta, error) {
	meta := &core.TxMeta{
		Failed:       !isJSONNull(w.Err),
		PreBalances:  w.PreBalances,
		PostBalances: w.PostBalances,
	}
	var err error
	if meta.PreTokenBalances, err = toTokenBalances(w.PreTokenBalances); err != nil {
		return nil, fmt.Errorf("preTokenBalances: %w", err)
	}
	if meta.PostTokenBalances, err = toTokenBalances(w.PostTokenBalances); err != nil {
		return nil, fmt.Errorf("postTokenBalances: %w", err)
	}

	for _, set := range w.InnerInstructions {
		index, err := toIndex(set.Index)
		if err != nil {
			return nil, fmt.Errorf("inner instruction set: %w", err)
		}
		out := core.InnerInstructionSet{
			Index:        index,
			Instructions: make([]core.CompiledInstruction, len(set.Instructions)),
		}
		for i, ix := range set.Instructions {
			data, err := base58.Decode(ix.Data)
			if err != nil {
				return nil, fmt.Errorf("inner instruction %d/%d data: %w", set.Index, i, err)
			}
			if out.Instructions[i], err = toInstruction(ix.ProgramIDIndex, ix.Accounts, data); err != nil {
				return nil, fmt.Errorf("inner instruction %d/%d: %w", set.Index, i, err)
			}
		}
		meta.InnerInstructions = append(meta.InnerInstructions, out)
	}
	return meta, nil
}

func toTokenBalances(list []wireTokenBalance) ([]core.TokenBalance, error) {
	out := make([]core.TokenBalance, 0, len(list))
	for _, b := range list {
		idx, err := toIndex(b.AccountIndex)
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseUint(b.UITokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid token amount %q: %w", b.UITokenAmount.Amount, err)
		}
		mint, err := itypes.TryPubkeyFromBase58(b.Mint)
		if err != nil {
			return nil, err
		}
		out = append(out, core.TokenBalance{AccountIndex: idx, Mint: mint, Amount: amount})
	}
	return out, nil
}
