package memnet

import (
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, e *Endpoint) <-chan []byte {
	t.Helper()
	ch := make(chan []byte, 16)
	e.SetReceiver(func(_ netip.AddrPort, payload []byte) { ch <- payload })
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Close() })
	return ch
}

func TestNetwork_Deliver(t *testing.T) {
	n := New()
	a, b := n.NewEndpoint(), n.NewEndpoint()
	got := collect(t, b)
	collect(t, a)

	var sentErr error = ErrClosed
	a.Send(b.LocalAddr(), []byte("hi"), func(err error) { sentErr = err })
	assert.NoError(t, sentErr)

	select {
	case p := <-got:
		assert.Equal(t, []byte("hi"), p)
	case <-time.After(time.Second):
		t.Fatal("packet not delivered")
	}
	assert.Equal(t, int64(1), a.Sends())
}

// TestNetwork_Drop 被丢弃的数据报不会报错
func TestNetwork_Drop(t *testing.T) {
	n := New()
	n.SetDropRate(1, 1)
	a, b := n.NewEndpoint(), n.NewEndpoint()
	got := collect(t, b)

	a.Send(b.LocalAddr(), []byte("lost"), nil)
	select {
	case <-got:
		t.Fatal("packet should be dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEndpoint_Closed(t *testing.T) {
	n := New()
	a := n.NewEndpoint()
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	var sentErr error
	a.Send(netip.MustParseAddrPort("127.0.0.1:1"), nil, func(err error) { sentErr = err })
	assert.ErrorIs(t, sentErr, ErrClosed)
	assert.ErrorIs(t, a.Start(), ErrClosed)
}

// TestEndpoint_CloseWaitsReceiver Close 等待正在执行的接收回调返回
func TestEndpoint_CloseWaitsReceiver(t *testing.T) {
	n := New()
	a, b := n.NewEndpoint(), n.NewEndpoint()

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	b.SetReceiver(func(_ netip.AddrPort, _ []byte) {
		close(entered)
		<-release
		finished.Store(true)
	})
	require.NoError(t, b.Start())

	a.Send(b.LocalAddr(), []byte("x"), nil)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("receiver not called")
	}

	closed := make(chan struct{})
	go func() {
		_ = b.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while receiver was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, finished.Load())
}
