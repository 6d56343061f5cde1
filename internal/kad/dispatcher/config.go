package dispatcher

import "time"

// Config 调度器配置
type Config struct {
	// DefaultTimeout 目标联系人未知时使用的超时
	DefaultTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 5 * time.Second,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.DefaultTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
