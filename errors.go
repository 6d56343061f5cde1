package kad

import (
	"errors"
	"fmt"
)

// 公共错误定义
var (
	// ErrNotFound 值查找结束但没有找到记录
	ErrNotFound = errors.New("kad: value not found")

	// ErrNoSeeds 带重试引导但没有配置种子
	ErrNoSeeds = errors.New("kad: no bootstrap seeds")

	// ErrInvalidSignature 找到的记录签名校验失败
	ErrInvalidSignature = errors.New("kad: invalid record signature")
)

// Error 同步接口返回的错误，带操作名
type Error struct {
	Op  string
	Err error
}

// Error 实现 error
func (e *Error) Error() string {
	return fmt.Sprintf("kad: %s: %v", e.Op, e.Err)
}

// Unwrap 支持 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
