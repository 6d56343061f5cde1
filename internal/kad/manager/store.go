package manager

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kad/internal/kad/database"
	"github.com/dep2p/go-kad/internal/kad/dispatcher"
	"github.com/dep2p/go-kad/internal/kad/lookup"
	"github.com/dep2p/go-kad/internal/kad/message"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/types"
)

// StoreResult 存储的终止结果
//
// 部分复制不是错误，由 NumLocs 反映。Err 只在查找被取消等情况下非空。
type StoreResult struct {
	Key types.ValueID

	// NumLocs 接受存储的节点数（含本地）
	NumLocs int

	// StoredLocally 本地节点位于最近的 k 个之中并已存入
	StoredLocally bool

	// Stored 接受存储的远端节点
	Stored []routing.ContactInfo

	// Skipped 没有令牌而被跳过的节点数
	Skipped int

	// Failed 超时或拒绝的节点数
	Failed int

	Elapsed time.Duration
	Err     error
}

// StoreListener 接收存储结果，在事件队列上执行
type StoreListener func(StoreResult)

// StoreManager 把记录复制到距其最近的 k 个节点
type StoreManager struct {
	k       int
	table   *routing.Table
	db      *database.Database
	lookups *LookupManager
	sender  lookup.Sender
	queue   *EventQueue
	clock   clock.Clock
}

// NewStoreManager 创建 StoreManager，k 为复制目标数量
func NewStoreManager(k int, table *routing.Table, db *database.Database, lookups *LookupManager,
	sender lookup.Sender, queue *EventQueue, clk clock.Clock) *StoreManager {
	if clk == nil {
		clk = clock.New()
	}
	return &StoreManager{
		k:       k,
		table:   table,
		db:      db,
		lookups: lookups,
		sender:  sender,
		queue:   queue,
		clock:   clk,
	}
}

// Store 查找目标节点后发送 STORE
//
// 空值表示删除。本地记录在完成后更新 NumLocs 与发布时间。
func (m *StoreManager) Store(rec database.Record, l StoreListener) {
	started := m.clock.Now()
	m.lookups.FindNode(rec.Key.NodeID(), func(res *lookup.Result) {
		if res.Err != nil {
			m.deliver(l, StoreResult{Key: rec.Key, Elapsed: m.clock.Since(started), Err: res.Err})
			return
		}
		m.replicate(rec, res, started, l)
	})
}

// localAmongClosest 本地节点是否位于最近的 k 个之中
func (m *StoreManager) localAmongClosest(target types.NodeID, closest []routing.ContactInfo) bool {
	if len(closest) < m.k {
		return true
	}
	return m.table.LocalID().CloserTo(closest[m.k-1].ID, target)
}

type storeOp struct {
	mu      sync.Mutex
	pending int
	result  StoreResult
}

func (m *StoreManager) replicate(rec database.Record, res *lookup.Result, started time.Time, l StoreListener) {
	target := rec.Key.NodeID()
	op := &storeOp{result: StoreResult{Key: rec.Key}}

	if m.localAmongClosest(target, res.Closest) {
		if ok, err := m.db.Put(rec); err != nil {
			logger.Warn("本地存储失败", "key", rec.Key.ShortString(), "error", err)
		} else {
			op.result.StoredLocally = ok
		}
	}

	wire := message.Record{Key: rec.Key, Value: rec.Value, Creator: rec.Creator, Signature: rec.Signature}
	local := m.table.Local().Info()

	type job struct {
		contact routing.ContactInfo
		msg     *message.Message
	}
	var jobs []job
	for _, c := range res.Closest {
		token, ok := res.Tokens[c.ID]
		if !ok {
			op.result.Skipped++
			logger.Debug("没有 STORE 令牌，跳过", "contact", c, "key", rec.Key.ShortString())
			continue
		}
		jobs = append(jobs, job{contact: c, msg: message.NewStore(local, token, wire)})
	}

	op.pending = len(jobs)
	if op.pending == 0 {
		m.finishStore(rec, op, started, l)
		return
	}

	for _, j := range jobs {
		c := j.contact
		_, err := m.sender.Send(&c.ID, c.Addr, j.msg, dispatcher.HandlerFuncs{
			Response: func(_ *dispatcher.Request, resp *message.Message, _ time.Duration) {
				m.storeDone(rec, op, c, resp.Stored, started, l)
			},
			Timeout: func(_ *dispatcher.Request, err error) {
				logger.Debug("STORE 失败", "contact", c, "error", err)
				m.storeDone(rec, op, c, false, started, l)
			},
		})
		if err != nil {
			m.storeDone(rec, op, c, false, started, l)
		}
	}
}

func (m *StoreManager) storeDone(rec database.Record, op *storeOp, c routing.ContactInfo, stored bool,
	started time.Time, l StoreListener) {
	op.mu.Lock()
	if stored {
		op.result.Stored = append(op.result.Stored, c)
	} else {
		op.result.Failed++
	}
	op.pending--
	last := op.pending == 0
	op.mu.Unlock()

	if last {
		m.finishStore(rec, op, started, l)
	}
}

func (m *StoreManager) finishStore(rec database.Record, op *storeOp, started time.Time, l StoreListener) {
	op.mu.Lock()
	res := op.result
	op.mu.Unlock()

	res.NumLocs = len(res.Stored)
	if res.StoredLocally {
		res.NumLocs++
	}
	res.Elapsed = m.clock.Since(started)

	if rec.Local && len(rec.Value) > 0 {
		m.db.MarkPublished(rec.Key, res.NumLocs)
	}
	logger.Debug("存储完成",
		"key", rec.Key.ShortString(), "numLocs", res.NumLocs,
		"skipped", res.Skipped, "failed", res.Failed)
	m.deliver(l, res)
}

func (m *StoreManager) deliver(l StoreListener, res StoreResult) {
	if l == nil {
		return
	}
	if err := m.queue.Post(func() { l(res) }); err != nil {
		logger.Debug("事件队列已关闭，丢弃存储结果", "key", res.Key.ShortString())
	}
}
