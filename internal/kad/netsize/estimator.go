// Package netsize 估计 DHT 网络规模
//
// 随机分布的 ID 下，第 i 近邻居到本节点的距离约为 i·2^160/N。
// 对本地路由表中最近的 k 个联系人做过原点的加权线性拟合：
//
//	Dc = Σ(i·dᵢ) / Σ(i²)
//	N  = 2^160 / Dc
//
// 本地估计做滑动平均；对端在响应中报告的估计取截尾均值后与本地平均再平均。
package netsize

import (
	"errors"
	"math"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/lib/log"
	"github.com/dep2p/go-kad/pkg/types"
)

var logger = log.Logger("kad/netsize")

// ErrInvalidConfig 无效配置
var ErrInvalidConfig = errors.New("netsize: invalid config")

// minRemoteSamples 参与混合所需的最少对端样本数
const minRemoteSamples = 3

// keySpace 2^160
var keySpace = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), types.KUIDBits))

// Config 估计器配置
type Config struct {
	// BucketSize 参与拟合的最近联系人数量（k）
	BucketSize int

	// UpdateInterval 两次重新计算的最小间隔
	UpdateInterval time.Duration

	// LocalHistory 本地估计滑动窗口长度
	LocalHistory int

	// RemoteHistory 保留的对端报告数量
	RemoteHistory int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BucketSize:     20,
		UpdateInterval: time.Minute,
		LocalHistory:   5,
		RemoteHistory:  16,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.BucketSize <= 0 || c.UpdateInterval < 0 || c.LocalHistory <= 0 || c.RemoteHistory <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Estimator 网络规模估计器
type Estimator struct {
	cfg   Config
	table *routing.Table
	clock clock.Clock

	mu         sync.Mutex
	local      []float64
	remote     []float64
	cached     float64
	computedAt time.Time
	valid      bool
}

// New 创建估计器
func New(cfg Config, table *routing.Table, clk clock.Clock) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Estimator{cfg: cfg, table: table, clock: clk}, nil
}

// ObserveRemote 记录对端报告的规模，超出窗口时丢弃最旧的
func (e *Estimator) ObserveRemote(size float64) {
	if size < 1 || math.IsInf(size, 0) || math.IsNaN(size) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remote = pushBounded(e.remote, size, e.cfg.RemoteHistory)
}

// Size 返回取整后的估计值，至少为 1
func (e *Estimator) Size() uint64 {
	return uint64(math.Round(e.Estimate()))
}

// Estimate 返回平滑后的估计值
//
// 距上次计算不足 UpdateInterval 时直接返回缓存值。
func (e *Estimator) Estimate() float64 {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.valid && now.Sub(e.computedAt) < e.cfg.UpdateInterval {
		return e.cached
	}

	sample := e.localEstimate()
	e.local = pushBounded(e.local, sample, e.cfg.LocalHistory)
	size := mean(e.local)

	if len(e.remote) >= minRemoteSamples {
		size = (size + trimmedMean(e.remote)) / 2
	}
	size = math.Max(1, size)

	e.cached = size
	e.computedAt = now
	e.valid = true
	logger.Debug("更新网络规模估计", "sample", sample, "size", size, "remote", len(e.remote))
	return size
}

// Invalidate 使缓存失效，下一次 Estimate 重新计算
func (e *Estimator) Invalidate() {
	e.mu.Lock()
	e.valid = false
	e.mu.Unlock()
}

// localEstimate 由路由表计算一次本地估计
func (e *Estimator) localEstimate() float64 {
	localID := e.table.LocalID()
	// 第 0 个是本地节点自身（距离 0），作为参照点跳过
	contacts := e.table.Select(localID, e.cfg.BucketSize+1, false, false)
	if len(contacts) <= 1 {
		return 1
	}

	sumWeighted := new(big.Float)
	var sumSquares float64
	for i := 1; i < len(contacts); i++ {
		d := new(big.Float).SetInt(localID.Distance(contacts[i].ID()).Big())
		sumWeighted.Add(sumWeighted, d.Mul(d, big.NewFloat(float64(i))))
		sumSquares += float64(i * i)
	}
	if sumWeighted.Sign() == 0 {
		return 1
	}

	dc := new(big.Float).Quo(sumWeighted, big.NewFloat(sumSquares))
	size, _ := new(big.Float).Quo(keySpace, dc).Float64()
	return math.Max(1, size)
}

func pushBounded(window []float64, v float64, max int) []float64 {
	window = append(window, v)
	if len(window) > max {
		window = window[len(window)-max:]
	}
	return window
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 1
	}
	return lo.Sum(values) / float64(len(values))
}

// trimmedMean 去掉一个最大值和一个最小值后的均值
func trimmedMean(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return mean(sorted[1 : len(sorted)-1])
}
