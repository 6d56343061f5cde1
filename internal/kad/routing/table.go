// Package routing 实现 Kademlia 路由表
//
// 路由表是一棵按 ID 前缀划分的二叉字典树，每个叶子是一个 K 桶。
// 覆盖本地节点 ID 的桶在满时分裂，其余满桶把新联系人放入替换缓存，
// 只有当桶内联系人被判定死亡时才从缓存提拔。
package routing

import (
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kad/pkg/lib/log"
	"github.com/dep2p/go-kad/pkg/types"
)

var logger = log.Logger("kad/routing")

// AddResult 插入结果
type AddResult int

const (
	// Added 新联系人进入桶
	Added AddResult = iota
	// Updated 已存在的联系人被更新
	Updated
	// Cached 桶已满，进入替换缓存
	Cached
	// Rejected 本地节点自身，不处理
	Rejected
)

// String 返回结果名称
func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Cached:
		return "cached"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              K 桶与字典树
// ============================================================================

// bucket K 桶，contacts 按最近活跃排序（最新的在末尾）
type bucket struct {
	prefix      types.KUID
	depth       int
	contacts    []*Contact
	cache       []*Contact
	lastTouched time.Time
}

func (b *bucket) covers(id types.KUID) bool {
	return b.prefix.CommonPrefixLen(id) >= b.depth
}

func indexOf(list []*Contact, id types.NodeID) int {
	return slices.IndexFunc(list, func(c *Contact) bool { return c.ID() == id })
}

func (b *bucket) moveToTail(i int) {
	c := b.contacts[i]
	b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
	b.contacts = append(b.contacts, c)
}

func (b *bucket) addToCache(c *Contact, max int) {
	if max <= 0 {
		return
	}
	if i := indexOf(b.cache, c.ID()); i >= 0 {
		b.cache = append(b.cache[:i], b.cache[i+1:]...)
	}
	if len(b.cache) >= max {
		b.cache = b.cache[1:]
	}
	b.cache = append(b.cache, c)
}

// takeReplacement 取出最新且未死亡的缓存联系人
func (b *bucket) takeReplacement() *Contact {
	for i := len(b.cache) - 1; i >= 0; i-- {
		c := b.cache[i]
		if c.IsDead() {
			continue
		}
		b.cache = append(b.cache[:i], b.cache[i+1:]...)
		return c
	}
	return nil
}

type trieNode struct {
	bucket   *bucket
	children [2]*trieNode
}

// BucketInfo 桶的诊断快照
type BucketInfo struct {
	Prefix      types.KUID
	Depth       int
	Size        int
	CacheSize   int
	LastTouched time.Time
}

// ============================================================================
//                              路由表
// ============================================================================

// Table 路由表
//
// 不变量：
//   - 本地联系人始终存在且永不被驱逐
//   - 同一节点 ID 至多出现一次
type Table struct {
	cfg    Config
	policy *Policy
	clock  clock.Clock
	local  *Contact

	mu    sync.RWMutex
	root  *trieNode
	index map[types.NodeID]*Contact
}

// NewTable 创建路由表，local 为本地节点
func NewTable(local ContactInfo, cfg Config, clk clock.Clock) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	t := &Table{
		cfg:   cfg,
		clock: clk,
		index: make(map[types.NodeID]*Contact),
	}
	t.policy = &t.cfg.Policy

	now := clk.Now()
	t.local = NewContact(local, t.policy)
	t.local.Alive(now)
	t.root = &trieNode{bucket: &bucket{
		contacts:    []*Contact{t.local},
		lastTouched: now,
	}}
	return t, nil
}

// Policy 返回共享的联系人策略
func (t *Table) Policy() *Policy { return t.policy }

// Config 返回路由表配置
func (t *Table) Config() Config { return t.cfg }

// Local 返回本地联系人
func (t *Table) Local() *Contact { return t.local }

// LocalID 返回本地节点 ID
func (t *Table) LocalID() types.NodeID { return t.local.ID() }

// SetLocalAddr 更新本地联系人地址（监听端口确定后调用）
func (t *Table) SetLocalAddr(addr netip.AddrPort) {
	info := t.local.Info()
	info.Addr = addr
	t.local.refresh(info, true)
}

func (t *Table) leafFor(id types.KUID) *trieNode {
	n := t.root
	for depth := 0; n.bucket == nil; depth++ {
		n = n.children[id.Bit(depth)]
	}
	return n
}

func (t *Table) eachBucket(fn func(*bucket)) {
	var walk func(*trieNode)
	walk = func(n *trieNode) {
		if n.bucket != nil {
			fn(n.bucket)
			return
		}
		walk(n.children[0])
		walk(n.children[1])
	}
	walk(t.root)
}

func (t *Table) splittable(b *bucket) bool {
	return b.depth < t.cfg.MaxDepth && b.covers(t.local.ID().KUID)
}

func (t *Table) split(n *trieNode) {
	b := n.bucket
	var kids [2]*bucket
	for bit := 0; bit < 2; bit++ {
		kids[bit] = &bucket{
			prefix:      b.prefix.SetBit(b.depth, bit),
			depth:       b.depth + 1,
			lastTouched: b.lastTouched,
		}
	}
	for _, c := range b.contacts {
		k := kids[c.ID().Bit(b.depth)]
		k.contacts = append(k.contacts, c)
	}
	for _, c := range b.cache {
		k := kids[c.ID().Bit(b.depth)]
		k.cache = append(k.cache, c)
	}
	n.bucket = nil
	n.children = [2]*trieNode{{bucket: kids[0]}, {bucket: kids[1]}}
}

// Add 插入转述得到的联系人，不改变其存活状态
//
// 已存在的联系人不会被转述信息覆盖。
func (t *Table) Add(c *Contact) (*Contact, AddResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addLocked(c, false)
}

// Mention 按"首次被提及"语义记录联系人
func (t *Table) Mention(info ContactInfo) *Contact {
	c, _ := t.Add(NewContact(info, t.policy))
	return c
}

// MarkAlive 记录一次确认响应：插入或提升联系人，标记存活并记录 RTT
func (t *Table) MarkAlive(info ContactInfo, rtt time.Duration) *Contact {
	if info.ID == t.local.ID() {
		return t.local
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, _ := t.addLocked(NewContact(info, t.policy), true)
	c.Alive(t.clock.Now())
	c.SetRTT(rtt)
	return c
}

func (t *Table) addLocked(c *Contact, confirmed bool) (*Contact, AddResult) {
	id := c.ID()
	if id == t.local.ID() {
		return t.local, Rejected
	}
	now := t.clock.Now()

	if existing, ok := t.index[id]; ok {
		if existing.refresh(c.Info(), confirmed) {
			logger.Debug("联系人已重启，状态重置", "contact", existing)
		}
		if confirmed {
			b := t.leafFor(id.KUID).bucket
			if i := indexOf(b.contacts, id); i >= 0 {
				b.moveToTail(i)
			}
			b.lastTouched = now
		}
		return existing, Updated
	}

	// 缓存中已有的联系人沿用原对象
	home := t.leafFor(id.KUID).bucket
	if i := indexOf(home.cache, id); i >= 0 {
		cached := home.cache[i]
		cached.refresh(c.Info(), confirmed)
		home.cache = append(home.cache[:i], home.cache[i+1:]...)
		c = cached
	}

	for {
		n := t.leafFor(id.KUID)
		b := n.bucket

		if len(b.contacts) < t.cfg.BucketSize {
			b.contacts = append(b.contacts, c)
			t.index[id] = c
			if confirmed {
				b.lastTouched = now
			}
			return c, Added
		}

		if t.splittable(b) {
			t.split(n)
			continue
		}

		if i := slices.IndexFunc(b.contacts, func(x *Contact) bool { return x != t.local && x.IsDead() }); i >= 0 {
			dead := b.contacts[i]
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			delete(t.index, dead.ID())
			b.contacts = append(b.contacts, c)
			t.index[id] = c
			logger.Debug("替换死亡联系人", "dead", dead, "new", c)
			return c, Added
		}

		b.addToCache(c, t.cfg.MaxCacheSize)
		return c, Cached
	}
}

// RecordFailure 为联系人记录一次失败，越过死亡阈值时从路由表移除
func (t *Table) RecordFailure(id types.NodeID) (c *Contact, dead bool) {
	if id == t.local.ID() {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if c = t.index[id]; c != nil {
		if dead = c.Failure(now); dead {
			t.removeLocked(id)
			logger.Debug("联系人死亡，已移出路由表", "contact", c, "failures", c.Failures())
		}
		return c, dead
	}

	b := t.leafFor(id.KUID).bucket
	if i := indexOf(b.cache, id); i >= 0 {
		c = b.cache[i]
		if dead = c.Failure(now); dead {
			b.cache = append(b.cache[:i], b.cache[i+1:]...)
		}
	}
	return c, dead
}

// Remove 移除联系人，本地联系人不可移除
func (t *Table) Remove(id types.NodeID) bool {
	if id == t.local.ID() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(id)
}

func (t *Table) removeLocked(id types.NodeID) bool {
	if _, ok := t.index[id]; !ok {
		return false
	}
	b := t.leafFor(id.KUID).bucket
	if i := indexOf(b.contacts, id); i >= 0 {
		b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
	}
	delete(t.index, id)

	if r := b.takeReplacement(); r != nil {
		b.contacts = append(b.contacts, r)
		t.index[r.ID()] = r
		logger.Debug("从替换缓存提拔联系人", "contact", r)
	}
	return true
}

// Get 按 ID 查找联系人（不含替换缓存）
func (t *Table) Get(id types.NodeID) *Contact {
	if id == t.local.ID() {
		return t.local
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.index[id]
}

// Select 返回距离 target 最近的至多 count 个联系人
//
// 结果按距离升序，距离相同时按原始 ID 排序。
// aliveOnly 只返回已确认存活的联系人；excludeLocal 排除本地节点。
func (t *Table) Select(target types.NodeID, count int, aliveOnly, excludeLocal bool) []*Contact {
	if count <= 0 {
		return nil
	}

	t.mu.RLock()
	candidates := make([]*Contact, 0, len(t.index)+1)
	if !excludeLocal {
		candidates = append(candidates, t.local)
	}
	for _, c := range t.index {
		if aliveOnly && !c.IsAlive() {
			continue
		}
		candidates = append(candidates, c)
	}
	t.mu.RUnlock()

	SortByDistance(candidates, target)
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// SortByDistance 按到 target 的距离升序排序，距离相同时按 ID 排序
func SortByDistance(contacts []*Contact, target types.NodeID) {
	slices.SortFunc(contacts, func(a, b *Contact) int {
		if d := types.CompareDistance(a.ID().KUID, b.ID().KUID, target.KUID); d != 0 {
			return d
		}
		return a.ID().Compare(b.ID().KUID)
	})
}

// Contacts 返回所有非本地联系人
func (t *Table) Contacts() []*Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Contact, 0, len(t.index))
	for _, c := range t.index {
		out = append(out, c)
	}
	return out
}

// CachedContacts 返回所有替换缓存中的联系人
func (t *Table) CachedContacts() []*Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Contact
	t.eachBucket(func(b *bucket) {
		out = append(out, b.cache...)
	})
	return out
}

// Size 非本地联系人数量
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

// Buckets 返回所有桶的快照
func (t *Table) Buckets() []BucketInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []BucketInfo
	t.eachBucket(func(b *bucket) {
		out = append(out, BucketInfo{
			Prefix:      b.prefix,
			Depth:       b.depth,
			Size:        len(b.contacts),
			CacheSize:   len(b.cache),
			LastTouched: b.lastTouched,
		})
	})
	return out
}

// RefreshTargets 返回需要刷新的桶内随机目标，并把这些桶标记为已触碰
//
// forceAll 为 true 时返回所有桶。
func (t *Table) RefreshTargets(forceAll bool) []types.NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var targets []types.NodeID
	t.eachBucket(func(b *bucket) {
		if !forceAll && now.Sub(b.lastTouched) < t.cfg.RefreshInterval {
			return
		}
		b.lastTouched = now
		targets = append(targets, types.NodeID{KUID: b.prefix.RandomInPrefix(b.depth)})
	})
	return targets
}
