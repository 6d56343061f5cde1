package udp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopback(t *testing.T) *Transport {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	tr, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

type datagram struct {
	from    netip.AddrPort
	payload []byte
}

// TestTransport_SendReceive 回环地址上收发数据报
func TestTransport_SendReceive(t *testing.T) {
	a := newLoopback(t)
	b := newLoopback(t)

	got := make(chan datagram, 1)
	b.SetReceiver(func(from netip.AddrPort, payload []byte) {
		got <- datagram{from: from, payload: append([]byte(nil), payload...)}
	})
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	sent := make(chan error, 1)
	a.Send(b.LocalAddr(), []byte("ping"), func(err error) { sent <- err })

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("发送回调未触发")
	}

	select {
	case d := <-got:
		assert.Equal(t, []byte("ping"), d.payload)
		assert.Equal(t, a.LocalAddr(), d.from)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到数据报")
	}
}

// TestTransport_LocalAddr 随机端口绑定后地址可用
func TestTransport_LocalAddr(t *testing.T) {
	tr := newLoopback(t)
	addr := tr.LocalAddr()
	assert.True(t, addr.Addr().Is4())
	assert.NotZero(t, addr.Port())
}

// TestTransport_SendAfterClose 关闭后发送立即失败
func TestTransport_SendAfterClose(t *testing.T) {
	tr := newLoopback(t)
	require.NoError(t, tr.Start())
	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())

	var got error
	tr.Send(netip.MustParseAddrPort("127.0.0.1:9"), []byte("x"), func(err error) { got = err })
	assert.ErrorIs(t, got, ErrClosed)
	assert.ErrorIs(t, tr.Start(), ErrClosed)
}

// TestTransport_TooLarge 超长数据报被拒绝
func TestTransport_TooLarge(t *testing.T) {
	tr := newLoopback(t)
	var got error
	tr.Send(netip.MustParseAddrPort("127.0.0.1:9"), make([]byte, MaxDatagramSize+1), func(err error) { got = err })
	assert.ErrorIs(t, got, ErrTooLarge)
}

// TestTransport_QueueFull 未启动时队列满后拒绝
func TestTransport_QueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.SendQueueSize = 1
	tr, err := New(cfg)
	require.NoError(t, err)
	defer tr.Close()

	dst := netip.MustParseAddrPort("127.0.0.1:9")
	tr.Send(dst, []byte("a"), nil)

	var got error
	tr.Send(dst, []byte("b"), func(err error) { got = err })
	assert.ErrorIs(t, got, ErrQueueFull)
}
