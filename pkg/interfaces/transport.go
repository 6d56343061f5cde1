package interfaces

import "net/netip"

// ReceiveFunc 入站数据报回调
//
// payload 在回调返回后可能被复用，实现者需要时应自行复制。
type ReceiveFunc func(from netip.AddrPort, payload []byte)

// Transport 数据报传输接口
//
// Send 是异步的：立即返回，发送完成（或失败）后调用 onSent。
// 投递语义为尽力而为，可能丢失、重复或乱序。
type Transport interface {
	// Send 异步发送一个数据报，onSent 可为 nil
	Send(addr netip.AddrPort, payload []byte, onSent func(error))

	// SetReceiver 设置入站回调，必须在 Start 前调用
	SetReceiver(fn ReceiveFunc)

	// LocalAddr 返回本地监听地址
	LocalAddr() netip.AddrPort

	// Start 开始接收数据报
	Start() error

	// Close 停止收发并释放资源，多次调用安全
	Close() error
}
