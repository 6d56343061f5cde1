package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScheduler_Ticks 到达间隔时执行任务
func TestScheduler_Ticks(t *testing.T) {
	clk := clock.NewMock()
	s := New(clk)

	var n atomic.Int32
	require.NoError(t, s.Add("refresh", time.Minute, func(context.Context) { n.Add(1) }))
	require.NoError(t, s.Start())
	defer s.Stop()

	// 让 ticker 循环先注册
	time.Sleep(10 * time.Millisecond)
	clk.Add(time.Minute)
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)

	clk.Add(time.Minute)
	require.Eventually(t, func() bool { return n.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), s.Runs("refresh"))
}

// TestScheduler_Trigger 手动触发额外执行一次
func TestScheduler_Trigger(t *testing.T) {
	s := New(clock.NewMock())
	var n atomic.Int32
	require.NoError(t, s.Add("persist", time.Hour, func(context.Context) { n.Add(1) }))
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.Trigger("persist"))
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Trigger("nope"), ErrUnknownTask)
}

// TestScheduler_PanicRecovered 任务 panic 后循环继续
func TestScheduler_PanicRecovered(t *testing.T) {
	s := New(clock.NewMock())
	var n atomic.Int32
	require.NoError(t, s.Add("bad", time.Hour, func(context.Context) {
		n.Add(1)
		panic("boom")
	}))
	require.NoError(t, s.Start())

	require.NoError(t, s.Trigger("bad"))
	require.Eventually(t, func() bool { return s.Runs("bad") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Trigger("bad"))
	require.Eventually(t, func() bool { return s.Runs("bad") == 2 }, time.Second, 5*time.Millisecond)

	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
}

// TestScheduler_Lifecycle 启动后不可再注册任务
func TestScheduler_Lifecycle(t *testing.T) {
	s := New(nil)
	assert.ErrorIs(t, s.Add("x", 0, func(context.Context) {}), ErrInvalidInterval)
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
	assert.ErrorIs(t, s.Add("y", time.Second, func(context.Context) {}), ErrAlreadyStarted)
	assert.NoError(t, s.Stop())
}

// TestScheduler_StopCancelsContext 停止时任务收到取消信号
func TestScheduler_StopCancelsContext(t *testing.T) {
	s := New(clock.NewMock())
	entered := make(chan struct{})
	require.NoError(t, s.Add("long", time.Hour, func(ctx context.Context) {
		close(entered)
		<-ctx.Done()
	}))
	require.NoError(t, s.Start())
	require.NoError(t, s.Trigger("long"))
	<-entered

	assert.NoError(t, s.Stop())
}
