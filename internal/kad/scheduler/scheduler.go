// Package scheduler 节点级周期任务调度
//
// 每个节点持有自己的 Scheduler，随节点启动、随节点关闭，
// 同一进程中的多个节点互不干扰。
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/dep2p/go-kad/pkg/lib/log"
)

var logger = log.Logger("kad/scheduler")

var (
	// ErrAlreadyStarted 调度器已启动
	ErrAlreadyStarted = errors.New("scheduler: already started")

	// ErrInvalidInterval 任务间隔必须为正
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")

	// ErrUnknownTask 没有该名称的任务
	ErrUnknownTask = errors.New("scheduler: unknown task")
)

// TaskFunc 周期任务，ctx 在调度器停止时取消
type TaskFunc func(ctx context.Context)

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	trigger  chan struct{}
	runs     atomic.Int64
}

// Scheduler 周期任务调度器
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	tasks   map[string]*task
	order   []*task
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// New 创建调度器
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:  clk,
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add 注册任务，必须在 Start 之前调用
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	t := &task{name: name, interval: interval, fn: fn, trigger: make(chan struct{}, 1)}
	s.tasks[name] = t
	s.order = append(s.order, t)
	return nil
}

// Start 为每个任务启动一个 ticker 循环
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	for _, t := range s.order {
		t := t
		s.wg.Go(func() { s.loop(t) })
	}
	logger.Debug("调度器已启动", "tasks", len(s.order))
	return nil
}

// Trigger 让任务尽快额外执行一次
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}
	select {
	case t.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Runs 任务已执行的次数
func (s *Scheduler) Runs(name string) int64 {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return t.runs.Load()
}

// Stop 取消所有任务并等待正在执行的任务返回，多次调用安全
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	if r := s.wg.WaitAndRecover(); r != nil {
		return r.AsError()
	}
	logger.Debug("调度器已停止")
	return nil
}

func (s *Scheduler) loop(t *task) {
	ticker := s.clock.Ticker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-t.trigger:
		}
		s.run(t)
	}
}

// run 执行一次任务，panic 只记录日志，不终止循环
func (s *Scheduler) run(t *task) {
	if s.ctx.Err() != nil {
		return
	}
	if r := panics.Try(func() { t.fn(s.ctx) }); r != nil {
		logger.Error("周期任务 panic", "task", t.name, "panic", r.String())
	}
	t.runs.Add(1)
}
