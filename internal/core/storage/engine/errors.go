package engine

import "errors"

// 快照存储只区分这几类失败，其余底层错误原样返回
var (
	// ErrNotFound 键不存在，读取方据此区分“没有快照”与真正的失败
	ErrNotFound = errors.New("kad store: key not found")

	// ErrEmptyKey 写入或读取使用了空键
	ErrEmptyKey = errors.New("kad store: empty key")

	// ErrClosed 节点关闭后仍访问存储
	ErrClosed = errors.New("kad store: closed")

	// ErrInvalidConfig 存储配置不可用
	ErrInvalidConfig = errors.New("kad store: invalid config")

	// ErrCorrupted 计数器等定长值长度不对
	ErrCorrupted = errors.New("kad store: corrupted value")
)

// IsNotFound 判断 err 是否表示键不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
