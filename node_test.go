package kad

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kad/config"
	"github.com/dep2p/go-kad/internal/kad/persist"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/internal/kad/transport/memnet"
	"github.com/dep2p/go-kad/pkg/interfaces"
	"github.com/dep2p/go-kad/pkg/types"
)

// testConfig 缩短超时以便测试快速结束
func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Timeouts.Default = config.Duration(300 * time.Millisecond)
	cfg.Timeouts.Max = config.Duration(300 * time.Millisecond)
	cfg.Timeouts.Min = config.Duration(50 * time.Millisecond)
	return cfg
}

func newMemNode(t *testing.T, nw *memnet.Network, cfg *config.Config, opts ...Option) *Node {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	opts = append([]Option{WithConfig(cfg), WithTransport(nw.NewEndpoint())}, opts...)
	n, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestNode_EstimatedSizeAlone 只有本节点时网络规模估计为 1
func TestNode_EstimatedSizeAlone(t *testing.T) {
	n := newMemNode(t, memnet.New(), nil)
	assert.Equal(t, uint64(1), n.EstimatedSize())
	assert.Equal(t, 0, n.RoutingTableSize())
	assert.True(t, n.Bootstrapped())
}

// TestNode_SinglePutGet 单节点存取
func TestNode_SinglePutGet(t *testing.T) {
	n := newMemNode(t, memnet.New(), nil)
	ctx := testCtx(t)

	res, err := n.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.NumLocs)
	assert.True(t, res.StoredLocally)

	v, err := n.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	_, err = n.Get(ctx, []byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "get", kerr.Op)
}

// TestNode_Remove 删除后读取不到
func TestNode_Remove(t *testing.T) {
	n := newMemNode(t, memnet.New(), nil)
	ctx := testCtx(t)

	_, err := n.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)
	require.NoError(t, n.Remove(ctx, []byte("k")))

	_, err = n.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, n.StoredRecords())
}

// TestNode_ThreeNodeScenario B 从 A 引导，C 从 B 引导；C 存入，A 与新加入的 D 都能读到
func TestNode_ThreeNodeScenario(t *testing.T) {
	nw := memnet.New()
	ctx := testCtx(t)

	a := newMemNode(t, nw, nil)
	b := newMemNode(t, nw, nil)
	c := newMemNode(t, nw, nil)

	_, err := b.Bootstrap(ctx, a.Addr())
	require.NoError(t, err)
	_, err = c.Bootstrap(ctx, b.Addr())
	require.NoError(t, err)

	assert.True(t, c.Bootstrapped())
	assert.Equal(t, 2, c.RoutingTableSize())
	// A 与 B 在应答 C 的查找时各自学到了对方
	assert.Eventually(t, func() bool {
		return a.RoutingTableSize() == 2 && b.RoutingTableSize() == 2
	}, 2*time.Second, 10*time.Millisecond)

	res, err := c.Put(ctx, []byte("hello"), []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.NumLocs)

	v, err := a.Get(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), v)

	// D 本地没有记录，必须经网络值查找
	d := newMemNode(t, nw, nil)
	_, err = d.Bootstrap(ctx, a.Addr())
	require.NoError(t, err)

	got := make(chan GetResult, 1)
	d.GetAsync([]byte("hello"), func(r GetResult) { got <- r })
	select {
	case r := <-got:
		require.NoError(t, r.Err)
		assert.True(t, r.Found)
		assert.False(t, r.Local)
		assert.Equal(t, []byte("world"), r.Value)
		assert.Equal(t, c.ID(), r.Creator)
	case <-ctx.Done():
		t.Fatal("取值超时")
	}
}

// TestNode_Ping 同步 ping 返回对端联系人
func TestNode_Ping(t *testing.T) {
	nw := memnet.New()
	a := newMemNode(t, nw, nil)
	b := newMemNode(t, nw, nil)

	res, err := a.Ping(testCtx(t), b.Addr())
	require.NoError(t, err)
	assert.Equal(t, b.ID(), res.Contact.ID)
	assert.Equal(t, a.Addr(), res.ObservedAddr)
	assert.Equal(t, 1, a.RoutingTableSize())
}

// TestNode_LookupUnderLoss 30% 丢包下查找仍然结束
func TestNode_LookupUnderLoss(t *testing.T) {
	nw := memnet.New()
	ctx := testCtx(t)

	seed := newMemNode(t, nw, nil)
	nodes := []*Node{seed}
	for i := 0; i < 9; i++ {
		n := newMemNode(t, nw, nil)
		_, err := n.Bootstrap(ctx, seed.Addr())
		require.NoError(t, err)
		nodes = append(nodes, n)
	}

	nw.SetDropRate(0.3, 7)
	for i := 0; i < 5; i++ {
		res, err := nodes[i].Lookup(ctx, types.RandomNodeID())
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Closest), 20)
	}
}

// TestNode_Misuse 生命周期误用直接 panic
func TestNode_Misuse(t *testing.T) {
	nw := memnet.New()
	n, err := New(WithConfig(testConfig()), WithTransport(nw.NewEndpoint()))
	require.NoError(t, err)

	assert.Panics(t, func() { n.LookupAsync(types.RandomNodeID(), nil) })

	require.NoError(t, n.Start(context.Background()))
	assert.Panics(t, func() { _ = n.Start(context.Background()) })

	require.NoError(t, n.Close())
	assert.NoError(t, n.Close())
	assert.Panics(t, func() { n.PutAsync([]byte("k"), []byte("v"), nil) })
}

// TestNode_CloseUnstarted 未启动的节点也能关闭
func TestNode_CloseUnstarted(t *testing.T) {
	n, err := New(WithConfig(testConfig()), WithTransport(memnet.New().NewEndpoint()))
	require.NoError(t, err)
	assert.NoError(t, n.Close())
}

// TestNode_InvalidConfig 配置校验失败时创建失败
func TestNode_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Lookup.Alpha = 0
	_, err := New(WithConfig(cfg), WithTransport(memnet.New().NewEndpoint()))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

// TestNode_Persistence 重启后恢复联系人与记录，实例号递增
func TestNode_Persistence(t *testing.T) {
	nw := memnet.New()
	ctx := testCtx(t)
	dir := t.TempDir()
	id := types.RandomNodeID()

	cfg := testConfig()
	cfg.DataDir = dir
	a, err := New(WithConfig(cfg), WithTransport(nw.NewEndpoint()), WithNodeID(id))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, uint8(1), a.Contact().InstanceID)

	b := newMemNode(t, nw, nil)
	_, err = b.Bootstrap(ctx, a.Addr())
	require.NoError(t, err)
	_, err = a.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	cfg2 := testConfig()
	cfg2.DataDir = dir
	a2, err := New(WithConfig(cfg2), WithTransport(nw.NewEndpoint()), WithNodeID(id))
	require.NoError(t, err)
	require.NoError(t, a2.Start(ctx))
	defer a2.Close()

	assert.Equal(t, id, a2.ID())
	assert.Equal(t, uint8(2), a2.Contact().InstanceID)
	assert.Equal(t, 1, a2.RoutingTableSize())
	assert.Equal(t, b.ID(), a2.Contacts()[0].ID)

	v, err := a2.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

// TestNode_PersistFirewalledContact 防火墙标志在快照中往返不丢失
func TestNode_PersistFirewalledContact(t *testing.T) {
	dir := t.TempDir()
	peer := types.RandomNodeID()

	store, err := persist.Open(filepath.Join(dir, "kad.db"))
	require.NoError(t, err)
	require.NoError(t, store.SaveContacts([]interfaces.ContactSnapshot{{
		NodeID:     peer,
		Addr:       "10.0.0.7:4000",
		Flags:      uint8(routing.FlagFirewalled),
		InstanceID: 3,
		LastSeen:   time.Now(),
	}}))
	require.NoError(t, store.Close())

	cfg := testConfig()
	cfg.DataDir = dir
	n, err := New(WithConfig(cfg), WithTransport(memnet.New().NewEndpoint()))
	require.NoError(t, err)
	require.NoError(t, n.Start(testCtx(t)))

	contacts := n.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, peer, contacts[0].ID)
	assert.Equal(t, routing.FlagFirewalled, contacts[0].Flags)
	assert.Equal(t, uint8(3), contacts[0].InstanceID)
	require.NoError(t, n.Close())

	store, err = persist.Open(filepath.Join(dir, "kad.db"))
	require.NoError(t, err)
	defer store.Close()
	saved, err := store.LoadContacts()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, uint8(routing.FlagFirewalled), saved[0].Flags)
}

// TestNode_BootstrapWithRetry 没有种子或种子不可达时返回错误
func TestNode_BootstrapWithRetry(t *testing.T) {
	nw := memnet.New()
	n := newMemNode(t, nw, nil)
	assert.ErrorIs(t, n.BootstrapWithRetry(testCtx(t)), ErrNoSeeds)

	cfg := testConfig()
	cfg.Bootstrap.Seeds = []string{"127.0.0.1:1"}
	cfg.Bootstrap.MaxElapsed = config.Duration(time.Second)
	m := newMemNode(t, nw, cfg)
	assert.False(t, m.Bootstrapped())

	err := m.BootstrapWithRetry(testCtx(t))
	require.Error(t, err)
	assert.False(t, m.Bootstrapped())

	// 种子可达后成功
	cfg3 := testConfig()
	cfg3.Bootstrap.Seeds = []string{n.Addr().String()}
	o := newMemNode(t, nw, cfg3)
	require.NoError(t, o.BootstrapWithRetry(testCtx(t)))
	assert.True(t, o.Bootstrapped())
}
