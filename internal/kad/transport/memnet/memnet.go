// Package memnet 提供进程内的数据报网络，用于多节点测试
//
// 语义与 UDP 一致：目标不存在或被丢弃时发送方不会得到错误。
// 支持注入丢包与固定延迟，并统计每个端点的发送次数。
package memnet

import (
	"errors"
	"math/rand"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/dep2p/go-kad/pkg/interfaces"
)

// ErrClosed 端点已关闭
var ErrClosed = errors.New("memnet: endpoint closed")

// DropFunc 返回 true 时丢弃该数据报
type DropFunc func(from, to netip.AddrPort, payload []byte) bool

const inboxSize = 1024

// Network 进程内网络
type Network struct {
	mu        sync.RWMutex
	endpoints map[netip.AddrPort]*Endpoint
	nextPort  uint16
	drop      DropFunc
	latency   time.Duration
}

// New 创建网络
func New() *Network {
	return &Network{
		endpoints: make(map[netip.AddrPort]*Endpoint),
		nextPort:  20000,
	}
}

// SetDropFunc 设置丢包规则，nil 表示不丢包
func (n *Network) SetDropFunc(fn DropFunc) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

// SetDropRate 以概率 p 随机丢包
func (n *Network) SetDropRate(p float64, seed int64) {
	var mu sync.Mutex
	r := rand.New(rand.NewSource(seed))
	n.SetDropFunc(func(_, _ netip.AddrPort, _ []byte) bool {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64() < p
	})
}

// SetLatency 设置单向固定延迟
func (n *Network) SetLatency(d time.Duration) {
	n.mu.Lock()
	n.latency = d
	n.mu.Unlock()
}

// NewEndpoint 分配一个新地址的端点
func (n *Network) NewEndpoint() *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), n.nextPort)
	n.nextPort++

	e := &Endpoint{
		net:   n,
		addr:  addr,
		inbox: make(chan packet, inboxSize),
		done:  make(chan struct{}),
	}
	n.endpoints[addr] = e
	return e
}

func (n *Network) route(from, to netip.AddrPort, payload []byte) {
	n.mu.RLock()
	dst := n.endpoints[to]
	drop := n.drop
	latency := n.latency
	n.mu.RUnlock()

	if dst == nil || (drop != nil && drop(from, to, payload)) {
		return
	}
	if latency <= 0 {
		dst.enqueue(packet{from: from, payload: payload})
		return
	}
	time.AfterFunc(latency, func() {
		dst.enqueue(packet{from: from, payload: payload})
	})
}

func (n *Network) remove(addr netip.AddrPort) {
	n.mu.Lock()
	delete(n.endpoints, addr)
	n.mu.Unlock()
}

type packet struct {
	from    netip.AddrPort
	payload []byte
}

// Endpoint 网络上的一个端点，实现 interfaces.Transport
type Endpoint struct {
	net   *Network
	addr  netip.AddrPort
	inbox chan packet
	done  chan struct{}

	recv    atomic.Value
	sends   atomic.Int64
	started atomic.Bool
	closed  atomic.Bool
	wg      conc.WaitGroup
}

// Send 异步发送，payload 会被复制
func (e *Endpoint) Send(addr netip.AddrPort, payload []byte, onSent func(error)) {
	if e.closed.Load() {
		if onSent != nil {
			onSent(ErrClosed)
		}
		return
	}
	e.sends.Add(1)
	e.net.route(e.addr, addr, append([]byte(nil), payload...))
	if onSent != nil {
		onSent(nil)
	}
}

// SetReceiver 设置入站回调
func (e *Endpoint) SetReceiver(fn interfaces.ReceiveFunc) {
	e.recv.Store(fn)
}

// LocalAddr 本地地址
func (e *Endpoint) LocalAddr() netip.AddrPort { return e.addr }

// Sends 已发送的数据报数量
func (e *Endpoint) Sends() int64 { return e.sends.Load() }

// Start 启动接收循环
func (e *Endpoint) Start() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.started.Swap(true) {
		return nil
	}
	e.wg.Go(func() {
		for {
			select {
			case <-e.done:
				return
			case p := <-e.inbox:
				if fn, ok := e.recv.Load().(interfaces.ReceiveFunc); ok && fn != nil {
					fn(p.from, p.payload)
				}
			}
		}
	})
	return nil
}

func (e *Endpoint) enqueue(p packet) {
	if e.closed.Load() {
		return
	}
	select {
	case e.inbox <- p:
	default:
		// 队列满时按 UDP 语义丢弃
	}
}

// Close 从网络移除并停止接收
func (e *Endpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.net.remove(e.addr)
	close(e.done)
	// 等待正在执行的接收回调返回
	e.wg.Wait()
	return nil
}

var _ interfaces.Transport = (*Endpoint)(nil)
