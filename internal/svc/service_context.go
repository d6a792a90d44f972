package svc

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"stakedex-indexer-sol/internal/config"
	"stakedex-indexer-sol/internal/consts"
	"stakedex-indexer-sol/internal/logic/crawler"
	"stakedex-indexer-sol/internal/logic/decoder"
	"stakedex-indexer-sol/internal/logic/lutcache"
	"stakedex-indexer-sol/internal/logic/progress"
	"stakedex-indexer-sol/internal/logic/resolver"
	"stakedex-indexer-sol/internal/metrics"
	"stakedex-indexer-sol/internal/mq"
	pkgmq "stakedex-indexer-sol/internal/pkg/mq"
	"stakedex-indexer-sol/internal/rpcclient"
	"stakedex-indexer-sol/internal/store"
	"stakedex-indexer-sol/pkg/logger"
)

// ServiceContext 包含索引服务的全部资源
type ServiceContext struct {
	Config   config.IndexerConfig
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	RPC      *rpcclient.Client
	LutCache *lutcache.Cache
	Store    *store.Store
	Redis    *redis.Client
	Producer *kafka.Producer
	Crawler  *crawler.Crawler
}

// NewServiceContext 按配置初始化各组件，Redis / Kafka 未配置时跳过
func NewServiceContext(ctx context.Context, c config.IndexerConfig) (_ *ServiceContext, err error) {
	mode, err := crawler.ParseMode(c.Crawl.Mode)
	if err != nil {
		return nil, err
	}

	s := &ServiceContext{Config: c, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// 1. 监控指标
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if s.Metrics, err = metrics.New(s.Registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	// 2. RPC 与地址表缓存
	s.RPC = rpcclient.New(c.RPC.Endpoint, s.Metrics)
	s.LutCache = lutcache.New(s.RPC, s.Metrics)

	// 3. SQLite
	if s.Store, err = store.Open(ctx, c.DBPath); err != nil {
		logger.Errorf("[ServiceContext] SQLite 打开失败: %v", err)
		return nil, err
	}

	deps := crawler.Deps{
		Lister:   s.RPC,
		Fetcher:  s.RPC,
		Resolver: resolver.New(s.LutCache),
		Decoder:  decoder.New(consts.StakedexProgram, s.Metrics),
		Store:    s.Store,
		Metrics:  s.Metrics,
	}

	// 4. Redis 进度标记（可选）
	if c.Redis.Enabled() {
		s.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err = s.Redis.Ping(ctx).Err(); err != nil {
			logger.Errorf("[ServiceContext] Redis 连接失败: %v", err)
			return nil, fmt.Errorf("ping redis %s: %w", c.Redis.Addr, err)
		}
		deps.Marks = progress.NewRedisProgressStore(s.Redis, c.Redis.MarkTTL())
	}

	// 5. Kafka 推送（可选）
	if c.KafkaProducerConf.Enabled() {
		if s.Producer, err = pkgmq.NewKafkaProducer(c.KafkaProducerConf.ToKafkaOption()); err != nil {
			logger.Errorf("[ServiceContext] Kafka producer 初始化失败: %v", err)
			return nil, err
		}
		deps.Sink = mq.NewInvocationSink(s.Producer, c.KafkaProducerConf.Topic,
			c.KafkaProducerConf.Partitions, c.KafkaProducerConf.SendTimeout(), s.Metrics)
	}

	s.Crawler = crawler.New(crawler.Options{
		Program:   consts.StakedexProgram,
		Boundary:  consts.BoundarySignature,
		Mode:      mode,
		PageLimit: c.Crawl.PageLimit,
		Workers:   c.Crawl.Workers,
	}, deps)

	logger.Infof("[ServiceContext] 初始化完成, mode=%s, db=%s, redis=%v, kafka=%v",
		mode, c.DBPath, c.Redis.Enabled(), c.KafkaProducerConf.Enabled())
	return s, nil
}

// Close 关闭服务上下文中的资源
func (s *ServiceContext) Close() {
	if s.Producer != nil {
		s.Producer.Flush(5000)
		s.Producer.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			logger.Warnf("[ServiceContext] 关闭 SQLite 失败: %v", err)
		}
	}
}
