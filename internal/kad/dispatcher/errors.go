package dispatcher

import "errors"

var (
	// ErrTimeout 请求在截止时间内没有收到响应
	ErrTimeout = errors.New("dispatcher: request timeout")

	// ErrUnexpectedResponse 响应类型或发送方与请求不符
	ErrUnexpectedResponse = errors.New("dispatcher: unexpected response")

	// ErrClosed 调度器已关闭
	ErrClosed = errors.New("dispatcher: closed")

	// ErrNotRequest 只能发送请求类消息
	ErrNotRequest = errors.New("dispatcher: message is not a request")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("dispatcher: invalid config")
)
