// Package udp 基于 UDP 套接字的数据报传输
//
// 一个读循环把入站数据报交给接收回调；发送经由有界队列
// 交给单个写循环，队列满时直接以 ErrQueueFull 回调失败。
package udp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/dep2p/go-kad/pkg/interfaces"
	"github.com/dep2p/go-kad/pkg/lib/log"
)

var logger = log.Logger("kad/transport/udp")

var (
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("udp: transport closed")

	// ErrQueueFull 发送队列已满
	ErrQueueFull = errors.New("udp: send queue full")

	// ErrTooLarge 数据报超过最大尺寸
	ErrTooLarge = errors.New("udp: datagram too large")
)

// MaxDatagramSize 单个数据报的最大字节数
const MaxDatagramSize = 64 * 1024

// Config 传输配置
type Config struct {
	// ListenAddr 监听地址，如 "0.0.0.0:4000"，端口 0 表示随机
	ListenAddr string

	// SendQueueSize 发送队列长度
	SendQueueSize int

	// SocketBufferSize 内核收发缓冲区大小，0 表示系统默认
	SocketBufferSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ListenAddr:    "0.0.0.0:0",
		SendQueueSize: 1024,
	}
}

type outbound struct {
	addr    netip.AddrPort
	payload []byte
	onSent  func(error)
}

// Transport UDP 传输
type Transport struct {
	cfg  Config
	conn *net.UDPConn
	addr netip.AddrPort

	receiver interfaces.ReceiveFunc

	sendq   chan outbound
	closing chan struct{}

	mu      sync.RWMutex
	started bool
	closed  atomic.Bool

	wg        conc.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

var _ interfaces.Transport = (*Transport)(nil)

// New 绑定套接字但不开始收发
func New(cfg Config) (*Transport, error) {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultConfig().SendQueueSize
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("解析监听地址失败: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("创建 UDP 监听失败: %w", err)
	}
	if cfg.SocketBufferSize > 0 {
		// 部分系统限制缓冲区上限，失败不影响使用
		if err := conn.SetReadBuffer(cfg.SocketBufferSize); err != nil {
			logger.Debug("设置读缓冲区失败", "error", err)
		}
		if err := conn.SetWriteBuffer(cfg.SocketBufferSize); err != nil {
			logger.Debug("设置写缓冲区失败", "error", err)
		}
	}

	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return &Transport{
		cfg:     cfg,
		conn:    conn,
		addr:    netip.AddrPortFrom(local.Addr().Unmap(), local.Port()),
		sendq:   make(chan outbound, cfg.SendQueueSize),
		closing: make(chan struct{}),
	}, nil
}

// SetReceiver 实现 interfaces.Transport
func (t *Transport) SetReceiver(fn interfaces.ReceiveFunc) {
	t.mu.Lock()
	t.receiver = fn
	t.mu.Unlock()
}

// LocalAddr 实现 interfaces.Transport
func (t *Transport) LocalAddr() netip.AddrPort {
	return t.addr
}

// Start 启动读写循环
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return ErrClosed
	}
	if t.started {
		return nil
	}
	t.started = true

	t.wg.Go(t.readLoop)
	t.wg.Go(t.writeLoop)
	logger.Info("UDP 传输已启动", "addr", t.addr)
	return nil
}

// Send 实现 interfaces.Transport
func (t *Transport) Send(addr netip.AddrPort, payload []byte, onSent func(error)) {
	if onSent == nil {
		onSent = func(error) {}
	}
	if t.closed.Load() {
		onSent(ErrClosed)
		return
	}
	if len(payload) > MaxDatagramSize {
		onSent(ErrTooLarge)
		return
	}

	select {
	case t.sendq <- outbound{addr: addr, payload: payload, onSent: onSent}:
	case <-t.closing:
		onSent(ErrClosed)
	default:
		onSent(ErrQueueFull)
	}
}

// Close 关闭套接字并等待读写循环退出
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.closing)
		t.closeErr = t.conn.Close()
		t.wg.Wait()

		// 排空未发送的数据报
		for {
			select {
			case out := <-t.sendq:
				out.onSent(ErrClosed)
			default:
				logger.Debug("UDP 传输已关闭", "addr", t.addr)
				return
			}
		}
	})
	return t.closeErr
}

func (t *Transport) readLoop() {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Debug("读取数据报失败", "error", err)
			continue
		}

		t.mu.RLock()
		recv := t.receiver
		t.mu.RUnlock()
		if recv == nil {
			continue
		}
		recv(netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), buf[:n])
	}
}

func (t *Transport) writeLoop() {
	for {
		select {
		case <-t.closing:
			return
		case out := <-t.sendq:
			_, err := t.conn.WriteToUDPAddrPort(out.payload, out.addr)
			out.onSent(err)
		}
	}
}
