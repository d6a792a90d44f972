package mq

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"stakedex-indexer-sol/pkg/logger"
)

const (
	defaultBatchSize = 32 * 1024
	defaultLingerMs  = 5
)

type KafkaProducerOption struct {
	Brokers    string // Kafka broker 地址，多个用英文逗号分隔（如 "localhost:9092,localhost:9093"）
	BatchSize  int    // 批处理大小（单位字节），如 32768 = 32KB
	LingerMs   int    // 批处理最大延迟（毫秒），建议 5~20ms 之间
	Topic      string // 调用记录 topic
	Partitions int    // topic 不存在时创建的分区数
}

// ensureTopic 检查 topic 是否存在，不存在则按 broker 数量决定副本数后创建
func ensureTopic(opt KafkaProducerOption) error {
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": opt.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer adminClient.Close()

	meta, err := adminClient.GetMetadata(nil, true, 10000)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}
	if _, ok := meta.Topics[opt.Topic]; ok {
		return nil
	}

	// replicationFactor 是每个分区副本的数量
	replicationFactor := 1
	if len(meta.Brokers) > 1 {
		replicationFactor = 2
	}
	partitions := opt.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	logger.Infof("[mq:ensureTopic] 创建 topic=%s, partitions=%d, replication=%d", opt.Topic, partitions, replicationFactor)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := adminClient.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             opt.Topic,
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", opt.Topic, err)
	}
	for _, result := range results {
		if code := result.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", result.Topic, result.Error)
		}
	}
	return nil
}

// NewKafkaProducer 创建 Kafka 生产者（幂等、acks=all）
func NewKafkaProducer(opt KafkaProducerOption) (*kafka.Producer, error) {
	if err := ensureTopic(opt); err != nil {
		return nil, err
	}

	batchSize := opt.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lingerMs := opt.LingerMs
	if lingerMs < 0 {
		lingerMs = defaultLingerMs
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": opt.Brokers,
		"client.id":         fmt.Sprintf("stakedex-indexer-%s", host),

		// 可靠性保障
		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5, // 幂等场景下最大值为 5

		// 超时与重试
		"delivery.timeout.ms": 30000,
		"request.timeout.ms":  30000,
		"retries":             5,
		"retry.backoff.ms":    100,

		"batch.size":       batchSize,
		"linger.ms":        lingerMs,
		"compression.type": "lz4",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return producer, nil
}
