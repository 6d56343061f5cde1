package routing

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/dep2p/go-kad/pkg/types"
)

// Flags 联系人标志位
type Flags uint8

const (
	// FlagFirewalled 节点在防火墙后，不应作为存储目标
	FlagFirewalled Flags = 1 << iota
)

// UnknownRTT RTT 未知
const UnknownRTT time.Duration = -1

// ContactInfo 联系人的值快照，用于消息与持久化
type ContactInfo struct {
	ID         types.NodeID
	Addr       netip.AddrPort
	Flags      Flags
	InstanceID uint8
}

// String 返回 "id@addr"
func (i ContactInfo) String() string {
	return i.ID.ShortString() + "@" + i.Addr.String()
}

// ============================================================================
//                              Contact
// ============================================================================

// Contact 远端节点及其存活/延迟状态机
//
// 状态转移：
//   - Alive: 收到确认响应，失败计数清零
//   - Failure: 超时或异常响应，失败计数加一
//   - UnknownState: 回到"从未确认"状态
//
// 失败计数只会被 Alive 或 UnknownState 降低。
type Contact struct {
	policy *Policy

	mu              sync.Mutex
	id              types.NodeID
	addr            netip.AddrPort
	flags           Flags
	instanceID      uint8
	failures        int
	lastSeen        time.Time
	lastDeadOrAlive time.Time
	rtt             time.Duration
}

// NewContact 以"从未确认"状态创建联系人
func NewContact(info ContactInfo, policy *Policy) *Contact {
	return &Contact{
		policy:     policy,
		id:         info.ID,
		addr:       info.Addr,
		flags:      info.Flags,
		instanceID: info.InstanceID,
		rtt:        UnknownRTT,
	}
}

// ID 返回节点 ID
func (c *Contact) ID() types.NodeID { return c.id }

// Addr 返回网络地址
func (c *Contact) Addr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Info 返回值快照
func (c *Contact) Info() ContactInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ContactInfo{ID: c.id, Addr: c.addr, Flags: c.flags, InstanceID: c.instanceID}
}

// Firewalled 是否在防火墙后
func (c *Contact) Firewalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags&FlagFirewalled != 0
}

// Alive 标记为已确认存活
func (c *Contact) Alive(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.lastSeen = now
	c.lastDeadOrAlive = now
}

// SetRTT 记录一次往返时间测量
func (c *Contact) SetRTT(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	c.mu.Lock()
	c.rtt = rtt
	c.mu.Unlock()
}

// Failure 记录一次失败，返回是否已越过死亡阈值
func (c *Contact) Failure(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.lastDeadOrAlive = now
	return c.isDeadLocked()
}

// UnknownState 重置为"从未确认"状态
func (c *Contact) UnknownState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.lastSeen = time.Time{}
	c.rtt = UnknownRTT
}

// IsDead 失败次数是否达到对应阈值
func (c *Contact) IsDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isDeadLocked()
}

func (c *Contact) isDeadLocked() bool {
	if c.lastSeen.IsZero() {
		return c.failures >= c.policy.MaxFailuresForUnknown
	}
	return c.failures >= c.policy.MaxFailuresForAlive
}

// IsAlive 曾确认存活且未死亡
func (c *Contact) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastSeen.IsZero() && !c.isDeadLocked()
}

// IsUnknown 从未确认存活
func (c *Contact) IsUnknown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen.IsZero()
}

// Failures 当前连续失败次数
func (c *Contact) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// LastSeen 最后一次确认存活的时间，零值表示从未确认
func (c *Contact) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// LastDeadOrAlive 最后一次状态变化的时间
func (c *Contact) LastDeadOrAlive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDeadOrAlive
}

// RTT 最近一次测量的往返时间，UnknownRTT 表示未知
func (c *Contact) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

// AdaptiveTimeout 自适应超时
//
//	min(MaxTimeout, MinRTTFactor*rtt + failures*rtt)，下限 MinTimeout
//
// RTT 未知或已死亡时返回 MaxTimeout。
func (c *Contact) AdaptiveTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.policy
	if c.rtt <= 0 || c.isDeadLocked() {
		return p.MaxTimeout
	}
	t := time.Duration(p.MinRTTFactor)*c.rtt + time.Duration(c.failures)*c.rtt
	if t > p.MaxTimeout {
		return p.MaxTimeout
	}
	if t < p.MinTimeout {
		return p.MinTimeout
	}
	return t
}

// Equal (nodeID, addr) 相同即相等
func (c *Contact) Equal(o *Contact) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.id == o.id && c.Addr() == o.Addr()
}

// String 返回 "id@addr"
func (c *Contact) String() string {
	return fmt.Sprintf("%s@%s", c.id.ShortString(), c.Addr())
}

// Snapshot 返回持久化用的完整状态
func (c *Contact) Snapshot() (info ContactInfo, failures int, lastSeen time.Time, rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ContactInfo{ID: c.id, Addr: c.addr, Flags: c.flags, InstanceID: c.instanceID},
		c.failures, c.lastSeen, c.rtt
}

// Restore 从持久化状态恢复联系人
func Restore(info ContactInfo, failures int, lastSeen time.Time, rtt time.Duration, policy *Policy) *Contact {
	c := NewContact(info, policy)
	c.failures = failures
	c.lastSeen = lastSeen
	c.lastDeadOrAlive = lastSeen
	if rtt > 0 {
		c.rtt = rtt
	}
	return c
}

// refresh 用新观察到的信息更新联系人
//
// 实例号变化说明对端重启过，旧的失败计数与 RTT 作废。
// 只有来自该地址的确认响应才会更新，转述得到的信息不覆盖已有状态。
func (c *Contact) refresh(info ContactInfo, confirmed bool) (restarted bool) {
	if !confirmed {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.addr = info.Addr
	c.flags = info.Flags
	if info.InstanceID != c.instanceID {
		restarted = !c.lastSeen.IsZero()
		c.instanceID = info.InstanceID
		c.failures = 0
		c.rtt = UnknownRTT
	}
	return restarted
}
