package config

import (
	"time"

	"stakedex-indexer-sol/internal/pkg/mq"
	"stakedex-indexer-sol/pkg/logger"
)

type LogConfig struct {
	Format   string `json:"format,default=console,options=console|json"` // 日志格式，支持 "console" 或 "json"
	LogDir   string `json:"log_dir,default=logs"`                        // 日志目录（可为相对路径或绝对路径）
	Level    string `json:"level,default=info"`                          // 日志级别：debug / info / warn / error
	Compress bool   `json:"compress,optional"`                           // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// RPCConfig 表示 Solana JSON-RPC 节点配置
type RPCConfig struct {
	Endpoint string `json:"endpoint,default=https://api.mainnet-beta.solana.com"`
}

// CrawlConfig 表示分页回扫配置
type CrawlConfig struct {
	Mode      string `json:"mode,default=backfill,options=backfill|catchup"` // backfill：向历史边界回扫；catchup：补齐最新交易
	PageLimit int    `json:"page_limit,default=1000"`                        // 每页签名数，最大 1000
	Workers   int    `json:"workers,default=1"`                              // 页内并发 fetch/decode 的协程数
}

// RedisConfig 为空地址时不启用进度标记
type RedisConfig struct {
	Addr       string `json:"addr,optional"`
	Password   string `json:"password,optional"`
	DB         int    `json:"db,optional"`
	MarkTTLSec int    `json:"mark_ttl_sec,default=604800"` // 标记过期时间（秒）
}

func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func (c *RedisConfig) MarkTTL() time.Duration {
	return time.Duration(c.MarkTTLSec) * time.Second
}

// KafkaProducerConfig 表示 Kafka 生产者相关配置，brokers 为空时不推送
type KafkaProducerConfig struct {
	Brokers       string `json:"brokers,optional"`                   // Kafka broker 地址，多个用英文逗号分隔
	BatchSize     int    `json:"batch_size,default=32768"`           // 批处理大小（单位字节）
	LingerMs      int    `json:"linger_ms,default=5"`                // 批处理最大延迟（毫秒）
	Topic         string `json:"topic,default=stakedex-invocations"` // 调用记录 topic
	Partitions    int    `json:"partitions,default=8"`               // topic 分区数
	SendTimeoutMs int    `json:"send_timeout_ms,default=5000"`       // 单条消息等待 ack 的超时时间
}

func (c *KafkaProducerConfig) Enabled() bool {
	return c.Brokers != ""
}

func (c *KafkaProducerConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

func (c *KafkaProducerConfig) ToKafkaOption() mq.KafkaProducerOption {
	return mq.KafkaProducerOption{
		Brokers:    c.Brokers,
		BatchSize:  c.BatchSize,
		LingerMs:   c.LingerMs,
		Topic:      c.Topic,
		Partitions: c.Partitions,
	}
}

// MetricsConfig 为空地址时不启动 HTTP 监控端口
type MetricsConfig struct {
	Addr string `json:"addr,optional"` // 例如 ":9464"
}

// IndexerConfig 是主配置结构体，用于驱动索引器服务
type IndexerConfig struct {
	LogConf           LogConfig           `json:"logger"`                      // 日志配置
	RPC               RPCConfig           `json:"rpc"`                         // RPC 节点配置
	DBPath            string              `json:"db_path,default=stakedex.db"` // SQLite 数据库文件
	Crawl             CrawlConfig         `json:"crawl"`                       // 回扫配置
	Redis             RedisConfig         `json:"redis,optional"`              // 进度标记（可选）
	KafkaProducerConf KafkaProducerConfig `json:"kafka_producer,optional"`     // 调用记录推送（可选）
	Metrics           MetricsConfig       `json:"metrics,optional"`            // 监控端口（可选）
}
