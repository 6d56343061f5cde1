package manager

import (
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-kad/internal/kad/dispatcher"
	"github.com/dep2p/go-kad/internal/kad/lookup"
	"github.com/dep2p/go-kad/internal/kad/message"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/types"
)

// PingResult ping 的终止结果
type PingResult struct {
	Addr netip.AddrPort

	// Contact 响应方（Err 为 nil 时有效）
	Contact routing.ContactInfo

	RTT time.Duration

	// ObservedAddr 对端看到的本节点地址
	ObservedAddr netip.AddrPort

	Err error
}

// PingListener 接收 ping 结果，在事件队列上执行
type PingListener func(PingResult)

type pingCall struct {
	id        uuid.UUID
	listeners []PingListener
}

// PingManager 按目标地址单飞合并的 ping
type PingManager struct {
	sender lookup.Sender
	table  *routing.Table
	queue  *EventQueue

	mu       sync.Mutex
	inflight map[netip.AddrPort]*pingCall
}

// NewPingManager 创建 PingManager
func NewPingManager(sender lookup.Sender, table *routing.Table, queue *EventQueue) *PingManager {
	return &PingManager{
		sender:   sender,
		table:    table,
		queue:    queue,
		inflight: make(map[netip.AddrPort]*pingCall),
	}
}

// Ping 向 addr 发送 PING
//
// target 为对端节点 ID，未知时传 nil。若同一地址已有在途 ping，
// 只挂上监听器，不再发送新的请求。
func (m *PingManager) Ping(addr netip.AddrPort, target *types.NodeID, l PingListener) {
	m.mu.Lock()
	if call, ok := m.inflight[addr]; ok {
		if l != nil {
			call.listeners = append(call.listeners, l)
		}
		m.mu.Unlock()
		logger.Debug("合并到在途 ping", "addr", addr)
		return
	}

	req := message.NewPing(m.table.Local().Info())
	call := &pingCall{id: req.ID}
	if l != nil {
		call.listeners = append(call.listeners, l)
	}
	m.inflight[addr] = call
	m.mu.Unlock()

	_, err := m.sender.Send(target, addr, req, dispatcher.HandlerFuncs{
		Response: func(_ *dispatcher.Request, resp *message.Message, rtt time.Duration) {
			m.complete(addr, call, PingResult{
				Addr:         addr,
				Contact:      resp.Sender,
				RTT:          rtt,
				ObservedAddr: resp.ObservedAddr,
			})
		},
		Timeout: func(_ *dispatcher.Request, err error) {
			m.complete(addr, call, PingResult{Addr: addr, Err: err})
		},
	})
	if err != nil {
		m.complete(addr, call, PingResult{Addr: addr, Err: err})
	}
}

// Cancel 取消对 addr 的在途 ping，所有监听器收到 ErrCancelled
func (m *PingManager) Cancel(addr netip.AddrPort) bool {
	m.mu.Lock()
	call, ok := m.inflight[addr]
	if ok {
		delete(m.inflight, addr)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.sender.Cancel(call.id)
	m.deliver(call.listeners, PingResult{Addr: addr, Err: ErrCancelled})
	return true
}

// InFlight 在途 ping 数量
func (m *PingManager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// complete 只有仍登记在表中的调用才会投递结果
func (m *PingManager) complete(addr netip.AddrPort, call *pingCall, res PingResult) {
	m.mu.Lock()
	if m.inflight[addr] != call {
		m.mu.Unlock()
		return
	}
	delete(m.inflight, addr)
	listeners := call.listeners
	m.mu.Unlock()

	m.deliver(listeners, res)
}

func (m *PingManager) deliver(listeners []PingListener, res PingResult) {
	if len(listeners) == 0 {
		return
	}
	if err := m.queue.Post(func() {
		for _, l := range listeners {
			l(res)
		}
	}); err != nil {
		logger.Debug("事件队列已关闭，丢弃 ping 结果", "addr", res.Addr)
	}
}
