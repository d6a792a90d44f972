package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/zeromicro/go-zero/core/conf"
	zerosvc "github.com/zeromicro/go-zero/core/service"

	"stakedex-indexer-sol/internal/config"
	"stakedex-indexer-sol/internal/metrics"
	"stakedex-indexer-sol/internal/service"
	"stakedex-indexer-sol/internal/svc"
	"stakedex-indexer-sol/pkg/logger"
)

func loadIndexConfig(c *cli.Context) config.IndexerConfig {
	var cfg config.IndexerConfig
	conf.MustLoad(c.String("config"), &cfg)

	if mode := c.String("mode"); mode != "" {
		cfg.Crawl.Mode = mode
	}
	if workers := c.Int("workers"); workers > 0 {
		cfg.Crawl.Workers = workers
	}
	if endpoint := c.String("rpc-url"); endpoint != "" {
		cfg.RPC.Endpoint = endpoint
	}
	if db := c.String("db"); db != "" {
		cfg.DBPath = db
	}
	return cfg
}

func runIndex(c *cli.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cfg := loadIndexConfig(c)
	if err := logger.InitLogger(cfg.LogConf.ToLogOption()); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serviceContext, err := svc.NewServiceContext(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init service context: %w", err)
	}
	defer serviceContext.Close()

	crawlService := service.NewCrawlService(serviceContext.Crawler)
	sg := zerosvc.NewServiceGroup()
	sg.Add(crawlService)
	if cfg.Metrics.Addr != "" {
		sg.Add(metrics.NewServer(cfg.Metrics.Addr, serviceContext.Registry))
	}

	logger.Infof("Starting stakedex indexer, mode=%s", cfg.Crawl.Mode)
	go sg.Start()

	// 索引结束或收到退出信号
	select {
	case <-crawlService.Done():
	case <-ctx.Done():
		logger.Infof("Shutting down services...")
	}
	sg.Stop()
	return crawlService.Err()
}
