package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/rpc"

	"stakedex-indexer-sol/internal/consts"
	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/metrics"
	"stakedex-indexer-sol/internal/types"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// Client 封装 Solana JSON-RPC，输出与 SDK 无关的 core 结构。所有请求使用 finalized。
type Client struct {
	rpc     rpc.RpcClient
	client  *client.Client
	metrics *metrics.Metrics
}

func New(endpoint string, m *metrics.Metrics) *Client {
	return &Client{
		rpc:     rpc.NewRpcClient(endpoint),
		client:  client.NewClient(endpoint),
		metrics: m,
	}
}

func (c *Client) record(method string, start time.Time, err error) {
	c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
}

// GetSignaturesForAddress 拉取一页签名（新 → 旧）
func (c *Client) GetSignaturesForAddress(ctx context.Context, address types.Pubkey, req core.SignaturePageRequest) (sigs []core.SignatureInfo, err error) {
	start := time.Now()
	defer func() { c.record("getSignaturesForAddress", start, err) }()

	limit := req.Limit
	if limit <= 0 || limit > consts.MaxSignaturesPageLimit {
		limit = consts.MaxSignaturesPageLimit
	}
	cfg := rpc.GetSignaturesForAddressConfig{
		Limit:      limit,
		Until:      req.Until.String(),
		Commitment: rpc.CommitmentFinalized,
	}
	if req.Before != nil {
		cfg.Before = req.Before.String()
	}

	resp, err := c.rpc.GetSignaturesForAddressWithConfig(ctx, address.String(), cfg)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("getSignaturesForAddress rpc error: %v", resp.Error)
	}

	sigs = make([]core.SignatureInfo, 0, len(resp.Result))
	for _, item := range resp.Result {
		sig, err := types.SignatureFromBase58(item.Signature)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, core.SignatureInfo{
			Signature: sig,
			Slot:      item.Slot,
			Failed:    item.Err != nil,
		})
	}
	return sigs, nil
}

// GetTransaction 以 base64 编码拉取完整交易（支持 v0 消息）
func (c *Client) GetTransaction(ctx context.Context, sig types.Signature) (tx *core.AdaptedTx, err error) {
	start := time.Now()
	defer func() { c.record("getTransaction", start, err) }()

	version := consts.MaxSupportedTxVersion
	resp, err := c.rpc.GetTransactionWithConfig(ctx, sig.String(), rpc.GetTransactionConfig{
		Encoding:                       rpc.TransactionEncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &version,
	})
	if err != nil {
		return nil, fmt.Errorf("getTransaction %s failed: %w", sig, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("getTransaction %s rpc error: %v", sig, resp.Error)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("encode getTransaction result failed: %w", err)
	}
	if isJSONNull(raw) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, sig)
	}
	var w wireTx
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode getTransaction result failed: %w", err)
	}
	tx, err = toAdaptedTx(sig, &w)
	if err != nil {
		return nil, fmt.Errorf("adapt transaction %s failed: %w", sig, err)
	}
	return tx, nil
}

// GetAccountInfo 拉取账户 owner 与原始数据，账户不存在或没有数据时报错
func (c *Client) GetAccountInfo(ctx context.Context, address types.Pubkey) (account *core.AccountInfo, err error) {
	start := time.Now()
	defer func() { c.record("getAccountInfo", start, err) }()

	info, err := c.client.GetAccountInfo(ctx, address.String())
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo %s failed: %w", address, err)
	}
	if len(info.Data) == 0 {
		return nil, fmt.Errorf("account %s has no data", address)
	}
	return &core.AccountInfo{Owner: types.Pubkey(info.Owner), Data: info.Data}, nil
}
