package netsize

import (
	"math/big"
	"net/netip"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/types"
)

func newTable(t *testing.T, clk clock.Clock, local types.NodeID) *routing.Table {
	t.Helper()
	cfg := routing.DefaultConfig()
	cfg.BucketSize = 64
	table, err := routing.NewTable(routing.ContactInfo{ID: local, Addr: netip.MustParseAddrPort("127.0.0.1:1")}, cfg, clk)
	require.NoError(t, err)
	return table
}

// nodeAtDistance 返回与 local 距离为 d 的节点 ID
func nodeAtDistance(local types.NodeID, d *big.Int) types.NodeID {
	var k types.KUID
	d.FillBytes(k[:])
	return types.NodeID{KUID: local.Xor(k)}
}

// TestEstimator_EmptyTable 只有本地节点时估计为 1
func TestEstimator_EmptyTable(t *testing.T) {
	clk := clock.NewMock()
	e, err := New(DefaultConfig(), newTable(t, clk, types.RandomNodeID()), clk)
	require.NoError(t, err)

	assert.Equal(t, 1.0, e.Estimate())
	assert.Equal(t, uint64(1), e.Size())
}

// TestEstimator_EvenlySpaced 等间距邻居恰好还原出规模
func TestEstimator_EvenlySpaced(t *testing.T) {
	clk := clock.NewMock()
	local := types.RandomNodeID()
	table := newTable(t, clk, local)

	// 1024 个节点均匀分布时，第 i 近邻居的距离为 i·2^150
	step := new(big.Int).Lsh(big.NewInt(1), types.KUIDBits-10)
	for i := 1; i <= 20; i++ {
		id := nodeAtDistance(local, new(big.Int).Mul(step, big.NewInt(int64(i))))
		table.Mention(routing.ContactInfo{ID: id, Addr: netip.MustParseAddrPort("127.0.0.1:2")})
	}

	e, err := New(DefaultConfig(), table, clk)
	require.NoError(t, err)
	assert.InDelta(t, 1024, e.Estimate(), 0.5)
	assert.Equal(t, uint64(1024), e.Size())
}

// TestEstimator_CachedUntilInterval 间隔内不重新计算
func TestEstimator_CachedUntilInterval(t *testing.T) {
	clk := clock.NewMock()
	local := types.RandomNodeID()
	table := newTable(t, clk, local)
	e, err := New(DefaultConfig(), table, clk)
	require.NoError(t, err)
	require.Equal(t, 1.0, e.Estimate())

	step := new(big.Int).Lsh(big.NewInt(1), types.KUIDBits-4)
	table.Mention(routing.ContactInfo{ID: nodeAtDistance(local, step), Addr: netip.MustParseAddrPort("127.0.0.1:2")})

	assert.Equal(t, 1.0, e.Estimate())

	clk.Add(DefaultConfig().UpdateInterval)
	// 本地窗口为 [1, 16]
	assert.InDelta(t, 8.5, e.Estimate(), 0.01)
}

// TestEstimator_RemoteBlending 对端样本不足 3 个时只用本地估计
func TestEstimator_RemoteBlending(t *testing.T) {
	clk := clock.NewMock()
	cfg := DefaultConfig()
	cfg.UpdateInterval = 0
	e, err := New(cfg, newTable(t, clk, types.RandomNodeID()), clk)
	require.NoError(t, err)

	e.ObserveRemote(100)
	e.ObserveRemote(300)
	assert.Equal(t, 1.0, e.Estimate())

	// 截尾后剩下 200
	e.ObserveRemote(200)
	assert.InDelta(t, (1.0+200.0)/2, e.Estimate(), 0.001)

	// 非法值被忽略
	e.ObserveRemote(0)
	e.ObserveRemote(-5)
	assert.InDelta(t, (1.0+200.0)/2, e.Estimate(), 0.001)
}

func TestEstimator_RemoteHistoryBounded(t *testing.T) {
	clk := clock.NewMock()
	cfg := DefaultConfig()
	cfg.RemoteHistory = 3
	cfg.UpdateInterval = 0
	e, err := New(cfg, newTable(t, clk, types.RandomNodeID()), clk)
	require.NoError(t, err)

	for _, v := range []float64{1000, 1000, 1000, 10, 20, 30} {
		e.ObserveRemote(v)
	}
	assert.InDelta(t, (1.0+20.0)/2, e.Estimate(), 0.001)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.LocalHistory = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	_, err := New(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
