package manager

import (
	"sync/atomic"

	"github.com/dep2p/go-kad/internal/kad/lookup"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/types"
)

// RefreshListener 桶刷新回调，在事件队列上执行，字段可为 nil
type RefreshListener struct {
	// BucketDone 每个桶的查找结束
	BucketDone func(target types.NodeID, res *lookup.Result)

	// Done 所有桶的查找都已结束
	Done func(lookups int)
}

// RefreshManager 为过期的桶发起随机目标查找
type RefreshManager struct {
	table   *routing.Table
	lookups *LookupManager
	queue   *EventQueue
}

// NewRefreshManager 创建 RefreshManager
func NewRefreshManager(table *routing.Table, lookups *LookupManager, queue *EventQueue) *RefreshManager {
	return &RefreshManager{table: table, lookups: lookups, queue: queue}
}

// RefreshBuckets 刷新超过刷新间隔未触碰的桶，forceAll 为 true 时刷新所有桶
func (m *RefreshManager) RefreshBuckets(forceAll bool, l RefreshListener) {
	targets := m.table.RefreshTargets(forceAll)
	if len(targets) == 0 {
		if l.Done != nil {
			_ = m.queue.Post(func() { l.Done(0) })
		}
		return
	}

	logger.Debug("刷新路由桶", "buckets", len(targets), "force", forceAll)

	var remaining atomic.Int32
	remaining.Store(int32(len(targets)))
	for _, target := range targets {
		target := target
		m.lookups.FindNode(target, func(res *lookup.Result) {
			if l.BucketDone != nil {
				l.BucketDone(target, res)
			}
			if remaining.Add(-1) == 0 && l.Done != nil {
				l.Done(len(targets))
			}
		})
	}
}
