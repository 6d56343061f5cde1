package manager

import (
	"sync"

	"github.com/dep2p/go-kad/internal/kad/lookup"
	"github.com/dep2p/go-kad/pkg/types"
)

// LookupListener 接收查找结果，在事件队列上执行
type LookupListener func(*lookup.Result)

// LookupKey 在途查找的键
type LookupKey struct {
	Kind       lookup.Kind
	Target     types.KUID
	Exhaustive bool
}

type lookupCall struct {
	lookup    *lookup.Lookup
	listeners []LookupListener
}

// LookupManager 按（类型，目标）单飞合并的查找
type LookupManager struct {
	engine *lookup.Engine
	queue  *EventQueue

	mu       sync.Mutex
	inflight map[LookupKey]*lookupCall
}

// NewLookupManager 创建 LookupManager
func NewLookupManager(engine *lookup.Engine, queue *EventQueue) *LookupManager {
	return &LookupManager{
		engine:   engine,
		queue:    queue,
		inflight: make(map[LookupKey]*lookupCall),
	}
}

// FindNode 查找距 target 最近的节点
func (m *LookupManager) FindNode(target types.NodeID, l LookupListener) {
	key := LookupKey{Kind: lookup.KindNode, Target: target.KUID}
	m.start(key, l, func(done func(*lookup.Result)) *lookup.Lookup {
		return m.engine.FindNode(target, done)
	})
}

// FindValue 查找值
func (m *LookupManager) FindValue(key types.ValueID, exhaustive bool, l LookupListener) {
	k := LookupKey{Kind: lookup.KindValue, Target: key.KUID, Exhaustive: exhaustive}
	m.start(k, l, func(done func(*lookup.Result)) *lookup.Lookup {
		return m.engine.FindValue(key, exhaustive, done)
	})
}

func (m *LookupManager) start(key LookupKey, l LookupListener, run func(func(*lookup.Result)) *lookup.Lookup) {
	m.mu.Lock()
	if call, ok := m.inflight[key]; ok {
		if l != nil {
			call.listeners = append(call.listeners, l)
		}
		m.mu.Unlock()
		logger.Debug("合并到在途查找", "kind", key.Kind, "target", key.Target.ShortString())
		return
	}
	call := &lookupCall{}
	if l != nil {
		call.listeners = append(call.listeners, l)
	}
	m.inflight[key] = call
	m.mu.Unlock()

	// 查找可能在 run 返回前就已结束（路由表为空时）
	lk := run(func(res *lookup.Result) { m.complete(key, call, res) })

	m.mu.Lock()
	stillActive := m.inflight[key] == call
	if stillActive {
		call.lookup = lk
	}
	m.mu.Unlock()

	// 启动期间被取消
	if !stillActive {
		lk.Cancel()
	}
}

// Cancel 取消在途查找，所有监听器收到带 ErrCancelled 的结果
func (m *LookupManager) Cancel(key LookupKey) bool {
	m.mu.Lock()
	call, ok := m.inflight[key]
	if ok {
		delete(m.inflight, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	if call.lookup != nil {
		call.lookup.Cancel()
	}
	m.deliver(call.listeners, &lookup.Result{Kind: key.Kind, Target: key.Target, Err: ErrCancelled})
	return true
}

// InFlight 在途查找数量
func (m *LookupManager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *LookupManager) complete(key LookupKey, call *lookupCall, res *lookup.Result) {
	m.mu.Lock()
	if m.inflight[key] != call {
		m.mu.Unlock()
		return
	}
	delete(m.inflight, key)
	listeners := call.listeners
	m.mu.Unlock()

	m.deliver(listeners, res)
}

func (m *LookupManager) deliver(listeners []LookupListener, res *lookup.Result) {
	if len(listeners) == 0 {
		return
	}
	if err := m.queue.Post(func() {
		for _, l := range listeners {
			l(res)
		}
	}); err != nil {
		logger.Debug("事件队列已关闭，丢弃查找结果", "target", res.Target.ShortString())
	}
}
