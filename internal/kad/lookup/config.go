package lookup

import "errors"

// ErrInvalidConfig 无效配置
var ErrInvalidConfig = errors.New("lookup: invalid config")

// Config 查找配置
type Config struct {
	// BucketSize 候选列表与结果的大小（k）
	BucketSize int

	// Alpha 每轮并行请求数
	Alpha int

	// MaxStallRounds 连续多少轮没有更近的联系人后结束
	MaxStallRounds int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BucketSize:     20,
		Alpha:          3,
		MaxStallRounds: 2,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.BucketSize <= 0 || c.Alpha <= 0 || c.MaxStallRounds <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
