package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/dep2p/go-kad/internal/kad/database"
	"github.com/dep2p/go-kad/internal/kad/dispatcher"
	"github.com/dep2p/go-kad/internal/kad/handler"
	"github.com/dep2p/go-kad/internal/kad/lookup"
	"github.com/dep2p/go-kad/internal/kad/netsize"
	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/internal/kad/transport/udp"
	"github.com/dep2p/go-kad/pkg/types"
)

// ErrInvalidConfig 无效配置
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Load 从文件加载配置，按扩展名选择 JSON 或 TOML
//
// 文件中未出现的字段保留默认值。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		cfg, err = FromTOML(data)
	case ".json", "":
		cfg, err = FromJSON(data)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromJSON 从 JSON 数据创建配置
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// FromTOML 从 TOML 数据创建配置
func FromTOML(data []byte) (*Config, error) {
	cfg := NewConfig()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode toml config: %w", err)
	}
	return cfg, nil
}

// ToJSON 序列化为缩进 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ============================================================================
//                              组件配置转换
// ============================================================================

// LocalNodeID 解析配置的节点 ID，未配置时返回 false
func (c *Config) LocalNodeID() (types.NodeID, bool, error) {
	if c.NodeID == "" {
		return types.NodeID{}, false, nil
	}
	id, err := types.NodeIDFromHex(c.NodeID)
	if err != nil {
		return types.NodeID{}, false, err
	}
	return id, true, nil
}

// RoutingConfig 转换为路由表配置
func (c *Config) RoutingConfig() routing.Config {
	return routing.Config{
		BucketSize:      c.Routing.BucketSize,
		MaxCacheSize:    c.Routing.MaxCacheSize,
		MaxDepth:        c.Routing.MaxDepth,
		RefreshInterval: c.Routing.RefreshInterval.Duration(),
		Policy: routing.Policy{
			MaxFailuresForAlive:   c.Routing.MaxFailuresAlive,
			MaxFailuresForUnknown: c.Routing.MaxFailuresUnknown,
			MinRTTFactor:          c.Timeouts.MinRTTFactor,
			MinTimeout:            c.Timeouts.Min.Duration(),
			MaxTimeout:            c.Timeouts.Max.Duration(),
		},
	}
}

// DispatcherConfig 转换为调度器配置
func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{DefaultTimeout: c.Timeouts.Default.Duration()}
}

// LookupConfig 转换为查找配置
func (c *Config) LookupConfig() lookup.Config {
	return lookup.Config{
		BucketSize:     c.Routing.BucketSize,
		Alpha:          c.Lookup.Alpha,
		MaxStallRounds: c.Lookup.MaxStallRounds,
	}
}

// DatabaseConfig 转换为记录存储配置
func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		RecordTTL:         c.Database.RecordTTL.Duration(),
		RepublishInterval: c.Database.RepublishInterval.Duration(),
		MaxValueSize:      c.Database.MaxValueSize,
		MaxRecords:        c.Database.MaxRecords,
	}
}

// NetsizeConfig 转换为网络规模估计配置
func (c *Config) NetsizeConfig() netsize.Config {
	return netsize.Config{
		BucketSize:     c.Routing.BucketSize,
		UpdateInterval: c.Netsize.UpdateInterval.Duration(),
		LocalHistory:   c.Netsize.LocalHistory,
		RemoteHistory:  c.Netsize.RemoteHistory,
	}
}

// HandlerConfig 转换为请求处理配置
func (c *Config) HandlerConfig() handler.Config {
	return handler.Config{
		BucketSize:        c.Routing.BucketSize,
		RequestsPerSecond: c.Handler.RequestsPerSecond,
		Burst:             c.Handler.Burst,
		ReplyCacheSize:    c.Handler.ReplyCacheSize,
	}
}

// TransportConfig 转换为 UDP 传输配置
func (c *Config) TransportConfig() udp.Config {
	cfg := udp.DefaultConfig()
	cfg.ListenAddr = c.ListenAddr
	return cfg
}

// validateDerived 用各组件自身的 Validate 做跨字段检查
func (c *Config) validateDerived() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"routing", c.RoutingConfig().Validate},
		{"dispatcher", c.DispatcherConfig().Validate},
		{"lookup", c.LookupConfig().Validate},
		{"database", c.DatabaseConfig().Validate},
		{"netsize", c.NetsizeConfig().Validate},
		{"handler", c.HandlerConfig().Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, chk.name, err)
		}
	}
	return nil
}
