// Package manager 实现 ping / 查找 / 存储 / 引导 / 刷新等上层操作
//
// PingManager 与 LookupManager 对相同的在途操作做单飞合并：
// 后来的调用方挂到已有操作上，不重复发出网络请求。
// 所有终止结果都作为事件投递到同一个 EventQueue，由单个消费者按序执行，
// 因此同一节点的监听器回调既不会乱序也不会并发。
package manager

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/dep2p/go-kad/pkg/lib/log"
)

var logger = log.Logger("kad/manager")

// ============================================================================
//                              EventQueue
// ============================================================================

// EventQueue 无界 FIFO 事件队列，单消费者
//
// Post 永不阻塞，监听器可以在回调中发起新的操作。
type EventQueue struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
	done   chan struct{}

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	wg        conc.WaitGroup
}

// NewEventQueue 创建事件队列
func NewEventQueue() *EventQueue {
	return &EventQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start 启动消费者，Start 之前投递的事件会被保留
func (q *EventQueue) Start() {
	if q.closed.Load() || q.started.Swap(true) {
		return
	}
	q.wg.Go(q.loop)
}

// Post 投递一个事件，队列已关闭时返回 ErrQueueClosed
//
// closed 在 mu 下检查与设置，返回 nil 的事件一定会被最后一次 drain 执行。
func (q *EventQueue) Post(fn func()) error {
	q.mu.Lock()
	if q.closed.Load() {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len 待执行的事件数
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 停止接收新事件，执行完已投递的事件后返回
//
// 不能在事件回调中调用。
func (q *EventQueue) Close() error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed.Store(true)
		q.mu.Unlock()
		close(q.done)
		if q.started.Load() {
			q.wg.Wait()
		}
	})
	return nil
}

func (q *EventQueue) loop() {
	for {
		select {
		case <-q.notify:
			q.drain()
		case <-q.done:
			q.drain()
			return
		}
	}
}

func (q *EventQueue) drain() {
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			q.run(fn)
		}
	}
}

// run 执行单个事件，监听器 panic 不影响后续事件
func (q *EventQueue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("事件监听器 panic", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
