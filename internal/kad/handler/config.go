package handler

import "errors"

// ErrInvalidConfig 无效配置
var ErrInvalidConfig = errors.New("handler: invalid config")

// Config 入站请求处理配置
type Config struct {
	// BucketSize 响应中返回的联系人数量上限（k）
	BucketSize int

	// RequestsPerSecond 入站请求速率上限，0 表示不限速
	RequestsPerSecond float64

	// Burst 令牌桶容量
	Burst int

	// ReplyCacheSize 重复请求应答缓存容量，0 表示不缓存
	ReplyCacheSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BucketSize:        20,
		RequestsPerSecond: 500,
		Burst:             1000,
		ReplyCacheSize:    1024,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.BucketSize <= 0 || c.RequestsPerSecond < 0 || c.ReplyCacheSize < 0 {
		return ErrInvalidConfig
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
