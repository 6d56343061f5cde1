// Package dispatcher 关联出站请求与入站响应
//
// 每个请求以消息随机数为键登记在待决表中，并安排一个独立的截止定时器。
// 响应、超时、发送失败、取消四条路径都通过 LoadAndDelete 争夺同一个表项，
// 只有取到表项的一方生效，因此每个请求至多产生一次终止回调。
package dispatcher

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dep2p/go-kad/internal/kad/message"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/interfaces"
	"github.com/dep2p/go-kad/pkg/lib/log"
	"github.com/dep2p/go-kad/pkg/types"
)

var logger = log.Logger("kad/dispatcher")

// ============================================================================
//                              回调接口
// ============================================================================

// ResponseHandler 请求的终止回调，二者恰好调用其一
type ResponseHandler interface {
	OnResponse(req *Request, resp *message.Message, rtt time.Duration)
	OnTimeout(req *Request, err error)
}

// HandlerFuncs 用函数实现 ResponseHandler
type HandlerFuncs struct {
	Response func(req *Request, resp *message.Message, rtt time.Duration)
	Timeout  func(req *Request, err error)
}

// OnResponse 实现 ResponseHandler
func (h HandlerFuncs) OnResponse(req *Request, resp *message.Message, rtt time.Duration) {
	if h.Response != nil {
		h.Response(req, resp, rtt)
	}
}

// OnTimeout 实现 ResponseHandler
func (h HandlerFuncs) OnTimeout(req *Request, err error) {
	if h.Timeout != nil {
		h.Timeout(req, err)
	}
}

// RequestHandler 处理入站请求，返回 nil 表示不回复
type RequestHandler interface {
	HandleRequest(from netip.AddrPort, req *message.Message) *message.Message
}

// SizeObserver 接收响应中携带的对端网络规模估计
type SizeObserver interface {
	ObserveRemote(size float64)
}

// ============================================================================
//                              Request
// ============================================================================

// Request 一个在途请求
type Request struct {
	ID      uuid.UUID
	Target  *types.NodeID
	Addr    netip.AddrPort
	Message *message.Message
	Sent    time.Time
	Timeout time.Duration

	handler ResponseHandler
	timer   *clock.Timer
}

func (r *Request) stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
}

// ============================================================================
//                              Dispatcher
// ============================================================================

// Dispatcher 请求/响应调度器
type Dispatcher struct {
	cfg       Config
	transport interfaces.Transport
	codec     message.Codec
	table     *routing.Table
	clock     clock.Clock
	metrics   *Metrics

	pending  *xsync.MapOf[uuid.UUID, *Request]
	handler  atomic.Value
	observer atomic.Value
	closed   atomic.Bool
}

// New 创建调度器并接管 transport 的入站回调
func New(cfg Config, transport interfaces.Transport, codec message.Codec,
	table *routing.Table, clk clock.Clock, metrics *Metrics) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	d := &Dispatcher{
		cfg:       cfg,
		transport: transport,
		codec:     codec,
		table:     table,
		clock:     clk,
		metrics:   metrics,
		pending:   xsync.NewMapOf[uuid.UUID, *Request](),
	}
	transport.SetReceiver(d.receive)
	return d, nil
}

// SetRequestHandler 设置入站请求处理器
func (d *Dispatcher) SetRequestHandler(h RequestHandler) {
	d.handler.Store(&h)
}

// SetSizeObserver 设置网络规模观察者
func (d *Dispatcher) SetSizeObserver(o SizeObserver) {
	d.observer.Store(&o)
}

// Metrics 返回计数器
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

// Pending 在途请求数
func (d *Dispatcher) Pending() int { return d.pending.Size() }

// Send 发送一个请求
//
// target 为 nil 表示对端 ID 未知（按地址 ping）。截止时间取目标联系人的
// 自适应超时，联系人未知时取 DefaultTimeout。
// 返回错误时不会产生任何回调。
func (d *Dispatcher) Send(target *types.NodeID, addr netip.AddrPort, req *message.Message, h ResponseHandler) (*Request, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if !req.Kind.IsRequest() {
		return nil, ErrNotRequest
	}

	data, err := d.codec.Encode(req)
	if err != nil {
		return nil, err
	}

	timeout := d.cfg.DefaultTimeout
	if target != nil {
		if c := d.table.Get(*target); c != nil {
			timeout = c.AdaptiveTimeout()
		}
	}

	r := &Request{
		ID:      req.ID,
		Target:  target,
		Addr:    addr,
		Message: req,
		Sent:    d.clock.Now(),
		Timeout: timeout,
		handler: h,
	}
	r.timer = d.clock.AfterFunc(timeout, func() { d.expire(r.ID) })
	d.pending.Store(r.ID, r)

	d.metrics.MessagesSent.WithLabelValues(req.Kind.String()).Inc()
	d.metrics.BytesSent.Add(float64(len(data)))
	logger.Debug("发送请求", "kind", req.Kind, "to", addr, "timeout", timeout)

	d.transport.Send(addr, data, func(err error) {
		if err != nil {
			// 发送失败回调可能在 Send 返回前同步触发，放到独立 goroutine 处理
			go d.sendFailed(r.ID, err)
		}
	})
	return r, nil
}

// Cancel 取消在途请求，不产生回调
//
// 之后到达的响应按迟到响应丢弃。
func (d *Dispatcher) Cancel(id uuid.UUID) bool {
	r, ok := d.pending.LoadAndDelete(id)
	if !ok {
		return false
	}
	r.stop()
	return true
}

// Reply 发送对入站请求的响应
func (d *Dispatcher) Reply(to netip.AddrPort, resp *message.Message) {
	data, err := d.codec.Encode(resp)
	if err != nil {
		logger.Warn("编码响应失败", "kind", resp.Kind, "error", err)
		return
	}
	d.metrics.MessagesSent.WithLabelValues(resp.Kind.String()).Inc()
	d.metrics.BytesSent.Add(float64(len(data)))
	d.transport.Send(to, data, nil)
}

// Close 停止接受新请求，所有在途请求以 ErrClosed 结束
func (d *Dispatcher) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.pending.Range(func(id uuid.UUID, _ *Request) bool {
		if r, ok := d.pending.LoadAndDelete(id); ok {
			r.stop()
			r.handler.OnTimeout(r, ErrClosed)
		}
		return true
	})
	return nil
}

// ============================================================================
//                              入站处理
// ============================================================================

func (d *Dispatcher) receive(from netip.AddrPort, payload []byte) {
	d.metrics.BytesReceived.Add(float64(len(payload)))

	m, err := d.codec.Decode(payload)
	if err != nil {
		// 无法解码的数据报无法关联到请求，对应请求会自然超时
		d.metrics.Malformed.Inc()
		logger.Warn("丢弃无法解码的消息", "from", from, "error", err)
		return
	}
	d.metrics.MessagesReceived.WithLabelValues(m.Kind.String()).Inc()

	if m.Kind.IsRequest() {
		d.handleRequest(from, m)
		return
	}
	d.handleResponse(from, m)
}

func (d *Dispatcher) handleRequest(from netip.AddrPort, m *message.Message) {
	if d.closed.Load() {
		return
	}

	// 来自该地址的请求证明发送方存活
	sender := m.Sender
	sender.Addr = from
	d.table.MarkAlive(sender, 0)

	hp, _ := d.handler.Load().(*RequestHandler)
	if hp == nil {
		return
	}
	if resp := (*hp).HandleRequest(from, m); resp != nil {
		d.Reply(from, resp)
	}
}

func (d *Dispatcher) handleResponse(from netip.AddrPort, m *message.Message) {
	r, ok := d.pending.LoadAndDelete(m.ID)
	if !ok {
		d.metrics.LateResponses.Inc()
		logger.Debug("丢弃迟到或未知的响应", "kind", m.Kind, "from", from)
		return
	}
	r.stop()

	if m.Kind != r.Message.Kind.ResponseKind() || (r.Target != nil && m.Sender.ID != *r.Target) {
		d.metrics.Malformed.Inc()
		logger.Warn("响应与请求不符",
			"expected", r.Message.Kind.ResponseKind(), "got", m.Kind,
			"from", from, "sender", m.Sender.ID.ShortString())
		d.failed(r, ErrUnexpectedResponse)
		return
	}

	rtt := d.clock.Since(r.Sent)
	d.metrics.RTT.Observe(rtt.Seconds())

	sender := m.Sender
	sender.Addr = from
	d.table.MarkAlive(sender, rtt)

	if m.EstimatedSize > 0 {
		if op, _ := d.observer.Load().(*SizeObserver); op != nil {
			(*op).ObserveRemote(float64(m.EstimatedSize))
		}
	}

	r.handler.OnResponse(r, m, rtt)
}

func (d *Dispatcher) expire(id uuid.UUID) {
	r, ok := d.pending.LoadAndDelete(id)
	if !ok {
		return
	}
	d.metrics.Timeouts.Inc()
	logger.Debug("请求超时", "kind", r.Message.Kind, "to", r.Addr, "timeout", r.Timeout)
	d.failed(r, ErrTimeout)
}

func (d *Dispatcher) sendFailed(id uuid.UUID, err error) {
	r, ok := d.pending.LoadAndDelete(id)
	if !ok {
		return
	}
	r.stop()
	logger.Debug("发送失败", "to", r.Addr, "error", err)
	d.failed(r, err)
}

// failed 失败记账：联系人失败计数加一，越过阈值时移出路由表
func (d *Dispatcher) failed(r *Request, err error) {
	if r.Target != nil {
		if c, dead := d.table.RecordFailure(*r.Target); dead {
			logger.Debug("联系人已死亡", "contact", c)
		}
	}
	r.handler.OnTimeout(r, err)
}
