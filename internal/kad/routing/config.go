package routing

import (
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-kad/pkg/types"
)

// ErrInvalidConfig 无效配置
var ErrInvalidConfig = errors.New("routing: invalid config")

// Policy 联系人存活判定与超时策略
//
// 所有 Contact 共享同一个 Policy 指针。
type Policy struct {
	// MaxFailuresForAlive 曾确认存活的联系人，失败次数达到此值视为死亡
	MaxFailuresForAlive int

	// MaxFailuresForUnknown 从未确认存活的联系人，失败次数达到此值视为死亡
	MaxFailuresForUnknown int

	// MinRTTFactor 自适应超时中 RTT 的基础倍数
	MinRTTFactor int

	// MinTimeout 自适应超时下限
	MinTimeout time.Duration

	// MaxTimeout 自适应超时上限，也是 RTT 未知时的超时
	MaxTimeout time.Duration
}

// DefaultPolicy 返回默认策略
func DefaultPolicy() Policy {
	return Policy{
		MaxFailuresForAlive:   4,
		MaxFailuresForUnknown: 2,
		MinRTTFactor:          2,
		MinTimeout:            500 * time.Millisecond,
		MaxTimeout:            10 * time.Second,
	}
}

// Config 路由表配置
type Config struct {
	// BucketSize K 桶大小
	BucketSize int

	// MaxCacheSize 每个桶替换缓存的上限
	MaxCacheSize int

	// MaxDepth 桶分裂的最大深度
	MaxDepth int

	// RefreshInterval 桶超过此时长未被触碰即需要刷新
	RefreshInterval time.Duration

	Policy Policy
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BucketSize:      20,
		MaxCacheSize:    20,
		MaxDepth:        types.KUIDBits,
		RefreshInterval: 30 * time.Minute,
		Policy:          DefaultPolicy(),
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	switch {
	case c.BucketSize < 1:
		return fmt.Errorf("%w: bucket size must be positive", ErrInvalidConfig)
	case c.MaxCacheSize < 0:
		return fmt.Errorf("%w: negative cache size", ErrInvalidConfig)
	case c.MaxDepth < 1 || c.MaxDepth > types.KUIDBits:
		return fmt.Errorf("%w: max depth out of range", ErrInvalidConfig)
	case c.RefreshInterval <= 0:
		return fmt.Errorf("%w: refresh interval must be positive", ErrInvalidConfig)
	}
	return c.Policy.Validate()
}

// Validate 验证策略
func (p Policy) Validate() error {
	switch {
	case p.MaxFailuresForAlive < 1 || p.MaxFailuresForUnknown < 1:
		return fmt.Errorf("%w: failure thresholds must be positive", ErrInvalidConfig)
	case p.MaxFailuresForUnknown > p.MaxFailuresForAlive:
		return fmt.Errorf("%w: unknown threshold exceeds alive threshold", ErrInvalidConfig)
	case p.MinRTTFactor < 1:
		return fmt.Errorf("%w: rtt factor must be positive", ErrInvalidConfig)
	case p.MinTimeout <= 0 || p.MaxTimeout < p.MinTimeout:
		return fmt.Errorf("%w: timeout bounds", ErrInvalidConfig)
	}
	return nil
}
