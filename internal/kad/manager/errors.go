package manager

import "errors"

var (
	// ErrCancelled 操作被取消
	ErrCancelled = errors.New("manager: operation cancelled")

	// ErrSeedUnreachable 引导种子节点无响应
	ErrSeedUnreachable = errors.New("manager: bootstrap seed unreachable")

	// ErrQueueClosed 事件队列已关闭
	ErrQueueClosed = errors.New("manager: event queue closed")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("manager: invalid config")
)
