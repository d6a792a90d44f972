package service

import (
	"context"
	"sync"

	"stakedex-indexer-sol/pkg/logger"
)

type Runner interface {
	Run(ctx context.Context) error
}

// CrawlService 把一次索引运行包装成 go-zero service.Service。
// Run 结束（完成、出错或被 Stop）后 Done 被关闭，Err 返回运行结果。
type CrawlService struct {
	runner Runner
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func NewCrawlService(runner Runner) *CrawlService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CrawlService{
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *CrawlService) Start() {
	s.once.Do(func() {
		defer close(s.done)
		s.err = s.runner.Run(s.ctx)
		if s.err != nil {
			logger.Errorf("[CrawlService] 索引运行失败: %v", s.err)
			return
		}
		logger.Infof("[CrawlService] 索引运行结束")
	})
}

// Stop 取消运行并等待当前交易处理完成；未启动时直接返回
func (s *CrawlService) Stop() {
	s.cancel()
	started := true
	s.once.Do(func() {
		started = false
		close(s.done)
	})
	if started {
		<-s.done
	}
}

func (s *CrawlService) Done() <-chan struct{} {
	return s.done
}

// Err 只在 Done 关闭后有意义
func (s *CrawlService) Err() error {
	<-s.done
	return s.err
}
