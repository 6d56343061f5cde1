package kad

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-kad/config"
	"github.com/dep2p/go-kad/pkg/lib/log"
)

var logger = log.Logger("kad")

// stopTimeout Close 等待组件停止的上限
const stopTimeout = 10 * time.Second

// Node DHT 节点
//
// 生命周期：New → Start → 操作 → Close。重复 Start、Start 之前或 Close 之后
// 调用操作都属于使用错误，会直接 panic。
type Node struct {
	opts *options
	app  *fx.App

	// c 由 Fx 注入的内部组件
	c components

	mu      sync.RWMutex
	started bool
	closed  bool
}

// New 创建节点但不启动
//
// UDP 传输在此时绑定端口，LocalAddr 立即可用。
func New(opts ...Option) (*Node, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	n := &Node{opts: o}
	app, err := buildFxApp(o, n)
	if err != nil {
		return nil, err
	}
	n.app = app
	return n, nil
}

// Start 启动传输、事件队列与周期任务，并恢复快照
//
// 没有配置种子时节点视为网络中的第一个节点，直接标记为已引导。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		panic("kad: Start called after Close")
	}
	if n.started {
		panic("kad: Start called twice")
	}

	if err := n.app.Start(ctx); err != nil {
		logger.Error("节点启动失败", "error", err)
		return opError("start", err)
	}
	n.started = true

	if len(n.opts.config.Bootstrap.Seeds) == 0 {
		n.c.Bootstrap.MarkBootstrapped()
	}
	logger.Info("节点已启动", "id", n.ID().ShortString(), "addr", n.Addr())
	return nil
}

// Close 停止节点并保存快照，多次调用安全
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	n.mu.Unlock()

	if !started {
		// 未启动时 Fx 钩子不会执行，手动释放传输与快照存储
		return opError("close", n.releaseUnstarted())
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := n.app.Stop(ctx); err != nil {
		logger.Warn("节点关闭时出错", "error", err)
		return opError("close", err)
	}
	logger.Info("节点已关闭", "id", n.ID().ShortString())
	return nil
}

// mustRunning 操作前检查生命周期
func (n *Node) mustRunning(op string) {
	n.mu.RLock()
	started, closed := n.started, n.closed
	n.mu.RUnlock()
	if closed {
		panic("kad: " + op + " called after Close")
	}
	if !started {
		panic("kad: " + op + " called before Start")
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              访问器
// ════════════════════════════════════════════════════════════════════════════

// ID 本节点 ID
func (n *Node) ID() NodeID {
	return n.c.Table.LocalID()
}

// Addr 本节点地址
func (n *Node) Addr() netip.AddrPort {
	return n.c.Table.Local().Addr()
}

// Contact 本节点的联系人信息
func (n *Node) Contact() ContactInfo {
	return n.c.Table.Local().Info()
}

// Config 节点配置
func (n *Node) Config() *config.Config {
	return n.opts.config
}

// RoutingTableSize 路由表中的远端联系人数量
func (n *Node) RoutingTableSize() int {
	return n.c.Table.Size()
}

// Contacts 路由表中的所有远端联系人
func (n *Node) Contacts() []ContactInfo {
	contacts := n.c.Table.Contacts()
	out := make([]ContactInfo, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.Info())
	}
	return out
}

// EstimatedSize 网络规模估计
func (n *Node) EstimatedSize() uint64 {
	return n.c.Estimator.Size()
}

// Bootstrapped 是否已完成引导
func (n *Node) Bootstrapped() bool {
	return n.c.Bootstrap.Bootstrapped()
}

// StoredRecords 本地数据库中的记录数
func (n *Node) StoredRecords() int {
	return n.c.DB.Len()
}
