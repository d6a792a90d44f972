package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/metrics"
	"stakedex-indexer-sol/internal/pkg/utils"
	"stakedex-indexer-sol/pkg/logger"
)

// InvocationMessage 是发布到 Kafka 的调用记录（JSON）
type InvocationMessage struct {
	Signature  string `json:"signature"`
	IxIndex    uint16 `json:"ix_index"`
	InnerIndex uint16 `json:"inner_index"`
	Signer     string `json:"signer"`
	Kind       string `json:"kind"`
	KindByte   uint8  `json:"kind_byte"`
	Slot       uint64 `json:"slot"`
	BlockTime  int64  `json:"block_time"`
	CpiProgram string `json:"cpi_program,omitempty"`
	AmountIn   string `json:"amount_in"` // 十进制字符串，避免 JSON 数字精度丢失
	AmountOut  string `json:"amount_out"`
	MintIn     string `json:"mint_in"`
	MintOut    string `json:"mint_out"`
}

func NewInvocationMessage(inv *core.Invocation) *InvocationMessage {
	msg := &InvocationMessage{
		Signature:  inv.Signature.String(),
		IxIndex:    inv.IxIndex,
		InnerIndex: inv.InnerIndex,
		Signer:     inv.Signer.String(),
		Kind:       inv.Kind.String(),
		KindByte:   uint8(inv.Kind),
		Slot:       inv.Slot,
		BlockTime:  inv.BlockTime,
		AmountIn:   fmt.Sprintf("%d", inv.AmountIn),
		AmountOut:  fmt.Sprintf("%d", inv.AmountOut),
		MintIn:     inv.MintIn.String(),
		MintOut:    inv.MintOut.String(),
	}
	if !inv.CpiProgram.IsZero() {
		msg.CpiProgram = inv.CpiProgram.String()
	}
	return msg
}

// InvocationSink 将已落库的调用记录发布到 Kafka，同一 signer 固定分区以保持顺序
type InvocationSink struct {
	producer   Producer
	topic      string
	partitions int32
	timeout    time.Duration
	metrics    *metrics.Metrics
}

func NewInvocationSink(producer Producer, topic string, partitions int, timeout time.Duration, m *metrics.Metrics) *InvocationSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &InvocationSink{
		producer:   producer,
		topic:      topic,
		partitions: int32(partitions),
		timeout:    timeout,
		metrics:    m,
	}
}

func (s *InvocationSink) buildJobs(invs []*core.Invocation) ([]*KafkaJob, error) {
	jobs := make([]*KafkaJob, 0, len(invs))
	for _, inv := range invs {
		value, err := json.Marshal(NewInvocationMessage(inv))
		if err != nil {
			return nil, fmt.Errorf("encode invocation failed: %w", err)
		}
		partition := kafka.PartitionAny
		if s.partitions > 0 {
			partition = utils.PartitionForKey(inv.Signer[:], s.partitions)
		}
		jobs = append(jobs, &KafkaJob{
			Topic:     s.topic,
			Partition: partition,
			Key:       []byte(inv.Signature.String()),
			Value:     value,
		})
	}
	return jobs, nil
}

// Publish 发送一笔交易产生的全部记录，任一失败返回错误
func (s *InvocationSink) Publish(ctx context.Context, invs []*core.Invocation) error {
	if len(invs) == 0 {
		return nil
	}
	jobs, err := s.buildJobs(invs)
	if err != nil {
		return err
	}

	ok, failed := SendKafkaJobs(ctx, s.producer, jobs, s.timeout)
	s.metrics.AddSinkResult(len(ok), len(failed))
	if len(failed) > 0 {
		logger.Warnf("[InvocationSink:Publish] 发送失败 %d/%d, tx=%s, err=%v",
			len(failed), len(jobs), invs[0].Signature, failed[0].Err)
		return fmt.Errorf("publish %d of %d invocations failed: %w", len(failed), len(jobs), failed[0].Err)
	}
	return nil
}
