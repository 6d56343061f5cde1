// Package engine 定义存储引擎的内部接口
//
// 在 pkg/interfaces.Engine 基础上补充批量写入与前缀迭代，
// 持久化层依赖这两项能力整体替换快照。
package engine

import (
	"github.com/dep2p/go-kad/pkg/interfaces"
)

// InternalEngine 内部扩展接口
type InternalEngine interface {
	interfaces.Engine

	// NewBatch 创建批量写入对象
	NewBatch() Batch

	// Write 原子写入一个批量
	Write(batch Batch) error

	// NewPrefixIterator 创建只遍历指定前缀的迭代器，调用者负责 Close
	NewPrefixIterator(prefix []byte) Iterator

	// Start 启动后台任务（值日志 GC）
	Start() error

	// Sync 把已写入的数据刷到磁盘
	Sync() error
}

// Batch 批量写入接口
//
// 不是线程安全的，不应在多个 goroutine 中并发使用。
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)

	// Write 提交后批量对象被重置
	Write() error
	Reset()
	Size() int
}

// Iterator 迭代器接口
//
// 迭代器保持创建时的快照视图：
//
//	iter := eng.NewPrefixIterator(prefix)
//	defer iter.Close()
//	for iter.First(); iter.Valid(); iter.Next() {
//	    use(iter.Key(), iter.Value())
//	}
//	return iter.Error()
type Iterator interface {
	First() bool
	Next() bool
	Valid() bool

	// Key 返回当前键的副本
	Key() []byte

	// Value 返回当前值的副本
	Value() []byte

	Close()
	Error() error
}
