package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestCrawlService_RunToCompletion(t *testing.T) {
	s := NewCrawlService(runnerFunc(func(context.Context) error { return nil }))
	go s.Start()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("service did not finish")
	}
	assert.NoError(t, s.Err())
	s.Stop()
}

func TestCrawlService_ReportsError(t *testing.T) {
	s := NewCrawlService(runnerFunc(func(context.Context) error { return errors.New("rpc down") }))
	s.Start()
	assert.EqualError(t, s.Err(), "rpc down")
}

func TestCrawlService_StopCancelsRun(t *testing.T) {
	started := make(chan struct{})
	s := NewCrawlService(runnerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}))
	go s.Start()
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
	require.NoError(t, s.Err())
}

func TestCrawlService_StopBeforeStart(t *testing.T) {
	called := false
	s := NewCrawlService(runnerFunc(func(context.Context) error {
		called = true
		return nil
	}))
	s.Stop()
	s.Start()
	assert.False(t, called)
	assert.NoError(t, s.Err())
}
