package config

import (
	"fmt"
	"time"
)

// RoutingConfig 路由表配置
type RoutingConfig struct {
	// BucketSize K 桶大小（k）
	BucketSize int `json:"bucket_size" toml:"bucket_size"`

	// MaxCacheSize 每个桶替换缓存的上限
	MaxCacheSize int `json:"max_cache_size" toml:"max_cache_size"`

	// MaxFailuresAlive 曾确认存活的联系人被判定死亡的失败次数
	MaxFailuresAlive int `json:"max_failures_alive" toml:"max_failures_alive"`

	// MaxFailuresUnknown 从未确认存活的联系人被判定死亡的失败次数
	MaxFailuresUnknown int `json:"max_failures_unknown" toml:"max_failures_unknown"`

	// RefreshInterval 桶刷新间隔
	RefreshInterval Duration `json:"refresh_interval" toml:"refresh_interval"`

	// MaxDepth 桶分裂最大深度
	MaxDepth int `json:"max_depth" toml:"max_depth"`
}

// DefaultRoutingConfig 返回默认路由表配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		BucketSize:         20,
		MaxCacheSize:       20,
		MaxFailuresAlive:   4,
		MaxFailuresUnknown: 2,
		RefreshInterval:    Duration(30 * time.Minute),
		MaxDepth:           160,
	}
}

// Validate 验证路由表配置
func (c *RoutingConfig) Validate() error {
	if c.BucketSize < 1 {
		return fmt.Errorf("%w: routing: bucket_size must be positive", ErrInvalidConfig)
	}
	if c.MaxFailuresAlive < 1 || c.MaxFailuresUnknown < 1 {
		return fmt.Errorf("%w: routing: failure thresholds must be positive", ErrInvalidConfig)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: routing: refresh_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// TimeoutsConfig 请求超时配置
type TimeoutsConfig struct {
	// Default 目标联系人未知时的超时
	Default Duration `json:"default" toml:"default"`

	// Min 自适应超时下限
	Min Duration `json:"min" toml:"min"`

	// Max 自适应超时上限
	Max Duration `json:"max" toml:"max"`

	// MinRTTFactor 自适应超时中 RTT 的基础倍数
	MinRTTFactor int `json:"min_rtt_factor" toml:"min_rtt_factor"`
}

// DefaultTimeoutsConfig 返回默认超时配置
func DefaultTimeoutsConfig() TimeoutsConfig {
	return TimeoutsConfig{
		Default:      Duration(5 * time.Second),
		Min:          Duration(500 * time.Millisecond),
		Max:          Duration(10 * time.Second),
		MinRTTFactor: 2,
	}
}

// Validate 验证超时配置
func (c *TimeoutsConfig) Validate() error {
	if c.Default <= 0 || c.Min <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.Max < c.Min {
		return fmt.Errorf("%w: timeouts: max < min", ErrInvalidConfig)
	}
	return nil
}

// LookupConfig 迭代查找配置
type LookupConfig struct {
	// Alpha 每轮并发请求数
	Alpha int `json:"alpha" toml:"alpha"`

	// MaxStallRounds 最近距离连续无改进的轮数上限
	MaxStallRounds int `json:"max_stall_rounds" toml:"max_stall_rounds"`
}

// DefaultLookupConfig 返回默认查找配置
func DefaultLookupConfig() LookupConfig {
	return LookupConfig{
		Alpha:          3,
		MaxStallRounds: 2,
	}
}

// Validate 验证查找配置
func (c *LookupConfig) Validate() error {
	if c.Alpha < 1 || c.MaxStallRounds < 1 {
		return fmt.Errorf("%w: lookup: alpha and max_stall_rounds must be positive", ErrInvalidConfig)
	}
	return nil
}
