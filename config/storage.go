package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// DatabaseConfig 记录存储配置
type DatabaseConfig struct {
	// RecordTTL 副本记录的存活时间
	RecordTTL Duration `json:"record_ttl" toml:"record_ttl"`

	// RepublishInterval 本地记录的重新发布间隔
	RepublishInterval Duration `json:"republish_interval" toml:"republish_interval"`

	// ExpireInterval 过期记录清理间隔
	ExpireInterval Duration `json:"expire_interval" toml:"expire_interval"`

	// MaxValueSize 单个值的最大字节数
	MaxValueSize int `json:"max_value_size" toml:"max_value_size"`

	// MaxRecords 记录总数上限，0 表示不限
	MaxRecords int `json:"max_records,omitempty" toml:"max_records"`
}

// DefaultDatabaseConfig 返回默认记录存储配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		RecordTTL:         Duration(time.Hour),
		RepublishInterval: Duration(30 * time.Minute),
		ExpireInterval:    Duration(5 * time.Minute),
		MaxValueSize:      64 << 10,
	}
}

// Validate 验证记录存储配置
func (c *DatabaseConfig) Validate() error {
	if c.RecordTTL <= 0 || c.RepublishInterval <= 0 || c.ExpireInterval <= 0 {
		return fmt.Errorf("%w: database: intervals must be positive", ErrInvalidConfig)
	}
	if c.MaxValueSize < 1 {
		return fmt.Errorf("%w: database: max_value_size must be positive", ErrInvalidConfig)
	}
	if c.MaxRecords < 0 {
		return fmt.Errorf("%w: database: negative max_records", ErrInvalidConfig)
	}
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c *Config) DBPath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "kad.db")
}
