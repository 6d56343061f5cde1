package config

import (
	"fmt"
	"net/netip"
	"time"
)

// NetsizeConfig 网络规模估计配置
type NetsizeConfig struct {
	UpdateInterval Duration `json:"update_interval" toml:"update_interval"`
	LocalHistory   int      `json:"local_history" toml:"local_history"`
	RemoteHistory  int      `json:"remote_history" toml:"remote_history"`
}

// DefaultNetsizeConfig 返回默认网络规模估计配置
func DefaultNetsizeConfig() NetsizeConfig {
	return NetsizeConfig{
		UpdateInterval: Duration(time.Minute),
		LocalHistory:   5,
		RemoteHistory:  16,
	}
}

// Validate 验证网络规模估计配置
func (c *NetsizeConfig) Validate() error {
	if c.UpdateInterval <= 0 || c.LocalHistory < 1 || c.RemoteHistory < 1 {
		return fmt.Errorf("%w: netsize: values must be positive", ErrInvalidConfig)
	}
	return nil
}

// SecurityConfig 存储令牌配置
type SecurityConfig struct {
	// TokenRotation 令牌密钥轮换间隔，旧密钥再保留一个周期
	TokenRotation Duration `json:"token_rotation" toml:"token_rotation"`
}

// DefaultSecurityConfig 返回默认安全配置
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{TokenRotation: Duration(5 * time.Minute)}
}

// Validate 验证安全配置
func (c *SecurityConfig) Validate() error {
	if c.TokenRotation <= 0 {
		return fmt.Errorf("%w: security: token_rotation must be positive", ErrInvalidConfig)
	}
	return nil
}

// HandlerConfig 入站请求处理配置
type HandlerConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `json:"burst" toml:"burst"`
	ReplyCacheSize    int     `json:"reply_cache_size" toml:"reply_cache_size"`
}

// DefaultHandlerConfig 返回默认请求处理配置
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		RequestsPerSecond: 500,
		Burst:             1000,
		ReplyCacheSize:    1024,
	}
}

// Validate 验证请求处理配置
func (c *HandlerConfig) Validate() error {
	if c.RequestsPerSecond <= 0 || c.Burst < 1 || c.ReplyCacheSize < 1 {
		return fmt.Errorf("%w: handler: values must be positive", ErrInvalidConfig)
	}
	return nil
}

// BootstrapConfig 引导配置
type BootstrapConfig struct {
	// Seeds 种子节点地址，格式 "ip:port"
	Seeds []string `json:"seeds,omitempty" toml:"seeds"`

	// MaxElapsed 带重试引导的总时长上限
	MaxElapsed Duration `json:"max_elapsed" toml:"max_elapsed"`
}

// DefaultBootstrapConfig 返回默认引导配置
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{MaxElapsed: Duration(2 * time.Minute)}
}

// Validate 验证引导配置
func (c *BootstrapConfig) Validate() error {
	if _, err := c.SeedAddrs(); err != nil {
		return err
	}
	if c.MaxElapsed <= 0 {
		return fmt.Errorf("%w: bootstrap: max_elapsed must be positive", ErrInvalidConfig)
	}
	return nil
}

// SeedAddrs 解析种子地址
func (c *BootstrapConfig) SeedAddrs() ([]netip.AddrPort, error) {
	out := make([]netip.AddrPort, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		ap, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, fmt.Errorf("%w: bootstrap: seed %q: %v", ErrInvalidConfig, s, err)
		}
		out = append(out, ap)
	}
	return out, nil
}
