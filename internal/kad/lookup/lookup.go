// Package lookup 实现 Kademlia 迭代查找
//
// 每轮向候选列表中最近的至多 α 个未查询联系人并行发送请求，
// 本轮所有请求结束（响应、超时或发送失败）并合并之后才开始下一轮。
// 一轮结束后最近联系人没有变得更近则停滞计数加一。
//
// 结束条件：
//   - 停滞轮数达到 MaxStallRounds
//   - 候选列表前 k 个都已查询
//   - 值查找（非穷举）收到了值
package lookup

import (
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/dep2p/go-kad/internal/kad/dispatcher"
	"github.com/dep2p/go-kad/internal/kad/message"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/lib/log"
	"github.com/dep2p/go-kad/pkg/types"
)

var logger = log.Logger("kad/lookup")

// Sender 发送请求的能力，由 dispatcher.Dispatcher 实现
type Sender interface {
	Send(target *types.NodeID, addr netip.AddrPort, req *message.Message, h dispatcher.ResponseHandler) (*dispatcher.Request, error)
	Cancel(id uuid.UUID) bool
}

// Kind 查找类型
type Kind int

const (
	// KindNode 查找最近节点
	KindNode Kind = iota
	// KindValue 查找值
	KindValue
)

// String 返回查找类型名称
func (k Kind) String() string {
	if k == KindValue {
		return "value"
	}
	return "node"
}

// Result 查找结果
type Result struct {
	Kind   Kind
	Target types.KUID

	// Closest 成功响应的联系人中最近的至多 k 个，按距离升序
	Closest []routing.ContactInfo

	// Tokens 各响应者给出的 STORE 令牌
	Tokens map[types.NodeID][]byte

	// Records 值查找收到的记录
	Records []message.Record

	Rounds  int
	Queried int
	Failed  int
	Elapsed time.Duration
	Err     error
}

// Found 值查找是否找到了值
func (r *Result) Found() bool {
	return len(r.Records) > 0
}

// ============================================================================
//                              Engine
// ============================================================================

// Engine 查找引擎
type Engine struct {
	cfg    Config
	table  *routing.Table
	sender Sender
	clock  clock.Clock
}

// NewEngine 创建查找引擎
func NewEngine(cfg Config, table *routing.Table, sender Sender, clk clock.Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{cfg: cfg, table: table, sender: sender, clock: clk}, nil
}

// Config 返回配置
func (e *Engine) Config() Config { return e.cfg }

// FindNode 开始一次节点查找，结束时调用 done（恰好一次，除非被取消）
func (e *Engine) FindNode(target types.NodeID, done func(*Result)) *Lookup {
	return e.start(KindNode, target.KUID, false, done)
}

// FindValue 开始一次值查找
//
// exhaustive 为 true 时收到值后继续查询，收集 k 个最近节点上的全部副本。
func (e *Engine) FindValue(key types.ValueID, exhaustive bool, done func(*Result)) *Lookup {
	return e.start(KindValue, key.KUID, exhaustive, done)
}

func (e *Engine) start(kind Kind, target types.KUID, exhaustive bool, done func(*Result)) *Lookup {
	l := &Lookup{
		engine:     e,
		kind:       kind,
		target:     target,
		exhaustive: exhaustive,
		onDone:     done,
		started:    e.clock.Now(),
		seen:       make(map[types.NodeID]*entry),
		inflight:   make(map[uuid.UUID]*entry),
		tokens:     make(map[types.NodeID][]byte),
	}

	l.mu.Lock()
	seeds := e.table.Select(types.NodeID{KUID: target}, e.cfg.BucketSize, false, true)
	for _, c := range seeds {
		l.addLocked(c.Info())
	}
	l.mu.Unlock()

	logger.Debug("开始查找", "kind", kind, "target", target.ShortString(), "seeds", len(seeds))
	l.nextRound()
	return l
}

// ============================================================================
//                              Lookup
// ============================================================================

type entry struct {
	info      routing.ContactInfo
	queried   bool
	responded bool
	failed    bool
}

// Lookup 一次进行中的查找
type Lookup struct {
	engine     *Engine
	kind       Kind
	target     types.KUID
	exhaustive bool
	onDone     func(*Result)
	started    time.Time

	mu        sync.Mutex
	shortlist []*entry
	seen      map[types.NodeID]*entry
	inflight  map[uuid.UUID]*entry
	tokens    map[types.NodeID][]byte
	records   []message.Record
	best      types.KUID
	hasBest   bool
	rounds    int
	stall     int
	queried   int
	failed    int
	finished  bool
}

// Target 查找目标
func (l *Lookup) Target() types.KUID { return l.target }

// Kind 查找类型
func (l *Lookup) Kind() Kind { return l.kind }

// Cancel 停止查找并撤销在途请求，之后不会调用 done
//
// 返回 false 表示查找已经结束。
func (l *Lookup) Cancel() bool {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return false
	}
	l.finished = true
	ids := lo.Keys(l.inflight)
	clear(l.inflight)
	l.mu.Unlock()

	for _, id := range ids {
		l.engine.sender.Cancel(id)
	}
	logger.Debug("查找已取消", "target", l.target.ShortString(), "inflight", len(ids))
	return true
}

// addLocked 合并一个联系人，已见过的（含已失败的）与本地节点忽略
func (l *Lookup) addLocked(info routing.ContactInfo) {
	if info.ID == l.engine.table.LocalID() {
		return
	}
	if _, ok := l.seen[info.ID]; ok {
		return
	}
	e := &entry{info: info}
	l.seen[info.ID] = e
	l.shortlist = append(l.shortlist, e)
}

func (l *Lookup) sortLocked() {
	slices.SortFunc(l.shortlist, func(a, b *entry) int {
		if d := types.CompareDistance(a.info.ID.KUID, b.info.ID.KUID, l.target); d != 0 {
			return d
		}
		return a.info.ID.Compare(b.info.ID.KUID)
	})
}

// topLocked 候选列表中最近的 k 个
func (l *Lookup) topLocked() []*entry {
	k := l.engine.cfg.BucketSize
	if len(l.shortlist) > k {
		return l.shortlist[:k]
	}
	return l.shortlist
}

type outgoing struct {
	entry *entry
	msg   *message.Message
}

// nextRound 发出下一轮请求，没有可查询的联系人时结束查找
func (l *Lookup) nextRound() {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}

	l.sortLocked()
	if len(l.shortlist) > 0 {
		l.best = l.shortlist[0].info.ID.Xor(l.target)
		l.hasBest = true
	}

	local := l.engine.table.Local().Info()
	var batch []outgoing
	for _, e := range l.topLocked() {
		if len(batch) >= l.engine.cfg.Alpha {
			break
		}
		if e.queried {
			continue
		}
		e.queried = true
		l.queried++
		m := l.newRequest(local)
		l.inflight[m.ID] = e
		batch = append(batch, outgoing{entry: e, msg: m})
	}

	if len(batch) == 0 {
		l.mu.Unlock()
		l.finish(nil)
		return
	}
	l.rounds++
	round := l.rounds
	l.mu.Unlock()

	logger.Debug("查找轮次", "target", l.target.ShortString(), "round", round, "requests", len(batch))

	// 发送时不持锁，响应回调会重新获取锁
	for _, o := range batch {
		id := o.entry.info.ID
		if _, err := l.engine.sender.Send(&id, o.entry.info.Addr, o.msg, l); err != nil {
			l.onFailure(o.msg.ID, err)
		}
	}
}

func (l *Lookup) newRequest(local routing.ContactInfo) *message.Message {
	if l.kind == KindValue {
		return message.NewFindValue(local, types.ValueID{KUID: l.target})
	}
	return message.NewFindNode(local, types.NodeID{KUID: l.target})
}

// OnResponse 实现 dispatcher.ResponseHandler
func (l *Lookup) OnResponse(req *dispatcher.Request, resp *message.Message, _ time.Duration) {
	l.mu.Lock()
	e, ok := l.inflight[req.ID]
	if !ok || l.finished {
		l.mu.Unlock()
		return
	}
	delete(l.inflight, req.ID)
	e.responded = true
	if len(resp.Token) > 0 {
		l.tokens[e.info.ID] = resp.Token
	}

	for _, info := range resp.Contacts {
		if info.ID == l.engine.table.LocalID() {
			continue
		}
		// 首次被提及的联系人以未确认状态进入路由表
		l.engine.table.Mention(info)
		l.addLocked(info)
	}

	found := false
	if l.kind == KindValue && len(resp.Records) > 0 {
		l.records = append(l.records, resp.Records...)
		found = !l.exhaustive
	}
	l.mu.Unlock()

	if found {
		l.finish(nil)
		return
	}
	l.roundStep()
}

// OnTimeout 实现 dispatcher.ResponseHandler
//
// 失败记账已由调度器完成，这里只把联系人移出本次查找。
func (l *Lookup) OnTimeout(req *dispatcher.Request, err error) {
	l.onFailure(req.ID, err)
}

func (l *Lookup) onFailure(id uuid.UUID, err error) {
	l.mu.Lock()
	e, ok := l.inflight[id]
	if !ok || l.finished {
		l.mu.Unlock()
		return
	}
	delete(l.inflight, id)
	e.failed = true
	l.failed++
	l.shortlist = slices.DeleteFunc(l.shortlist, func(x *entry) bool { return x == e })
	l.mu.Unlock()

	logger.Debug("查找请求失败", "contact", e.info, "error", err)
	l.roundStep()
}

// roundStep 本轮最后一个请求结束后判断是否继续
func (l *Lookup) roundStep() {
	l.mu.Lock()
	if l.finished || len(l.inflight) > 0 {
		l.mu.Unlock()
		return
	}

	l.sortLocked()
	improved := len(l.shortlist) > 0 &&
		(!l.hasBest || l.shortlist[0].info.ID.Xor(l.target).Compare(l.best) < 0)
	if improved {
		l.stall = 0
	} else {
		l.stall++
	}
	stalled := l.stall >= l.engine.cfg.MaxStallRounds
	l.mu.Unlock()

	if stalled {
		l.finish(nil)
		return
	}
	l.nextRound()
}

func (l *Lookup) finish(err error) {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}
	l.finished = true
	ids := lo.Keys(l.inflight)
	clear(l.inflight)

	l.sortLocked()
	responded := lo.Filter(l.shortlist, func(e *entry, _ int) bool { return e.responded })
	if len(responded) > l.engine.cfg.BucketSize {
		responded = responded[:l.engine.cfg.BucketSize]
	}
	res := &Result{
		Kind:    l.kind,
		Target:  l.target,
		Closest: lo.Map(responded, func(e *entry, _ int) routing.ContactInfo { return e.info }),
		Tokens:  l.tokens,
		Records: l.records,
		Rounds:  l.rounds,
		Queried: l.queried,
		Failed:  l.failed,
		Elapsed: l.engine.clock.Since(l.started),
		Err:     err,
	}
	l.mu.Unlock()

	// 值已找到时撤销剩余请求
	for _, id := range ids {
		l.engine.sender.Cancel(id)
	}

	logger.Debug("查找结束",
		"kind", res.Kind, "target", l.target.ShortString(),
		"rounds", res.Rounds, "queried", res.Queried, "failed", res.Failed,
		"closest", len(res.Closest), "found", res.Found())
	if l.onDone != nil {
		l.onDone(res)
	}
}
