package manager

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kad/internal/kad/lookup"
	"github.com/dep2p/go-kad/internal/kad/routing"
)

// BootstrapListener 引导阶段回调，在事件队列上执行
type BootstrapListener interface {
	// PhaseOneComplete 种子 ping 与自查找完成；err 非空时引导终止
	PhaseOneComplete(elapsed time.Duration, err error)

	// PhaseTwoComplete 全部桶刷新完成，节点已引导
	PhaseTwoComplete(foundNewNodes bool, elapsed time.Duration)
}

// BootstrapFuncs 用函数实现 BootstrapListener
type BootstrapFuncs struct {
	PhaseOne func(elapsed time.Duration, err error)
	PhaseTwo func(foundNewNodes bool, elapsed time.Duration)
}

// PhaseOneComplete 实现 BootstrapListener
func (f BootstrapFuncs) PhaseOneComplete(elapsed time.Duration, err error) {
	if f.PhaseOne != nil {
		f.PhaseOne(elapsed, err)
	}
}

// PhaseTwoComplete 实现 BootstrapListener
func (f BootstrapFuncs) PhaseTwoComplete(foundNewNodes bool, elapsed time.Duration) {
	if f.PhaseTwo != nil {
		f.PhaseTwo(foundNewNodes, elapsed)
	}
}

// BootstrapManager 两阶段引导
//
//   - 阶段一：ping 种子，成功后查找本节点 ID
//   - 阶段二：强制刷新所有桶
//
// 阶段二结束即视为已引导，与是否发现新节点无关。
type BootstrapManager struct {
	table   *routing.Table
	pings   *PingManager
	lookups *LookupManager
	refresh *RefreshManager
	clock   clock.Clock

	bootstrapped atomic.Bool
}

// NewBootstrapManager 创建 BootstrapManager
func NewBootstrapManager(table *routing.Table, pings *PingManager, lookups *LookupManager,
	refresh *RefreshManager, clk clock.Clock) *BootstrapManager {
	if clk == nil {
		clk = clock.New()
	}
	return &BootstrapManager{
		table:   table,
		pings:   pings,
		lookups: lookups,
		refresh: refresh,
		clock:   clk,
	}
}

// Bootstrapped 是否已完成过一次引导
func (m *BootstrapManager) Bootstrapped() bool {
	return m.bootstrapped.Load()
}

// MarkBootstrapped 无种子启动（第一个节点）时直接标记
func (m *BootstrapManager) MarkBootstrapped() {
	m.bootstrapped.Store(true)
}

// Bootstrap 从种子地址引导
func (m *BootstrapManager) Bootstrap(seed netip.AddrPort, l BootstrapListener) {
	started := m.clock.Now()
	logger.Info("开始引导", "seed", seed)

	m.pings.Ping(seed, nil, func(pr PingResult) {
		if pr.Err != nil {
			logger.Warn("引导种子无响应", "seed", seed, "error", pr.Err)
			l.PhaseOneComplete(m.clock.Since(started), fmt.Errorf("%w: %s: %w", ErrSeedUnreachable, seed, pr.Err))
			return
		}

		m.lookups.FindNode(m.table.LocalID(), func(res *lookup.Result) {
			elapsed := m.clock.Since(started)
			if res.Err != nil {
				l.PhaseOneComplete(elapsed, res.Err)
				return
			}
			l.PhaseOneComplete(elapsed, nil)
			logger.Debug("引导阶段一完成", "seed", seed, "contacts", m.table.Size(), "elapsed", elapsed)

			before := m.table.Size()
			m.refresh.RefreshBuckets(true, RefreshListener{
				Done: func(int) {
					m.bootstrapped.Store(true)
					found := m.table.Size() > before
					elapsed := m.clock.Since(started)
					logger.Info("引导完成", "seed", seed, "contacts", m.table.Size(), "elapsed", elapsed)
					l.PhaseTwoComplete(found, elapsed)
				},
			})
		})
	})
}
