// Package config 提供节点的统一配置
//
// 主 Config 结构体嵌入各组件的子配置，每个子配置在独立文件中定义。
// 支持 JSON 与 TOML 两种文件格式，按扩展名选择：
//
//	cfg, err := config.Load("kad.toml")
//	if err != nil {
//	    return err
//	}
//	cfg.Lookup.Alpha = 5
//
// 时长字段写作字符串，如 "30s"、"5m"。
package config

import (
	"fmt"
	"time"

	"github.com/dep2p/go-kad/pkg/types"
)

// Config 节点完整配置
type Config struct {
	// ListenAddr UDP 监听地址
	ListenAddr string `json:"listen_addr" toml:"listen_addr"`

	// NodeID 十六进制节点 ID，留空则随机生成
	NodeID string `json:"node_id,omitempty" toml:"node_id"`

	// DataDir 数据目录，设置后启用路由表与记录的快照持久化
	DataDir string `json:"data_dir,omitempty" toml:"data_dir"`

	// PersistInterval 快照保存间隔
	PersistInterval Duration `json:"persist_interval" toml:"persist_interval"`

	// MetricsAddr 指标 HTTP 监听地址，仅命令行使用
	MetricsAddr string `json:"metrics_addr,omitempty" toml:"metrics_addr"`

	Routing   RoutingConfig   `json:"routing" toml:"routing"`
	Timeouts  TimeoutsConfig  `json:"timeouts" toml:"timeouts"`
	Lookup    LookupConfig    `json:"lookup" toml:"lookup"`
	Database  DatabaseConfig  `json:"database" toml:"database"`
	Netsize   NetsizeConfig   `json:"netsize" toml:"netsize"`
	Security  SecurityConfig  `json:"security" toml:"security"`
	Handler   HandlerConfig   `json:"handler" toml:"handler"`
	Bootstrap BootstrapConfig `json:"bootstrap" toml:"bootstrap"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		ListenAddr:      "0.0.0.0:4000",
		PersistInterval: Duration(5 * time.Minute),
		Routing:         DefaultRoutingConfig(),
		Timeouts:        DefaultTimeoutsConfig(),
		Lookup:          DefaultLookupConfig(),
		Database:        DefaultDatabaseConfig(),
		Netsize:         DefaultNetsizeConfig(),
		Security:        DefaultSecurityConfig(),
		Handler:         DefaultHandlerConfig(),
		Bootstrap:       DefaultBootstrapConfig(),
	}
}

// Default 是 NewConfig 的别名
func Default() *Config {
	return NewConfig()
}

// Validate 验证配置
//
// 先逐个检查子配置，再转换为各组件配置做跨字段检查。
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr cannot be empty", ErrInvalidConfig)
	}
	if c.NodeID != "" {
		if _, err := types.NodeIDFromHex(c.NodeID); err != nil {
			return fmt.Errorf("%w: node_id: %v", ErrInvalidConfig, err)
		}
	}
	if c.DataDir != "" && c.PersistInterval <= 0 {
		return fmt.Errorf("%w: persist_interval must be positive", ErrInvalidConfig)
	}

	for _, v := range []validator{
		&c.Routing, &c.Timeouts, &c.Lookup, &c.Database,
		&c.Netsize, &c.Security, &c.Handler, &c.Bootstrap,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return c.validateDerived()
}

type validator interface {
	Validate() error
}
