package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-kad/internal/core/storage/engine"
)

// WriteBatch BadgerDB 批量写入
//
// badger 的 WriteBatch 在 Set/Delete 时可能已经返回错误，
// 这里记下第一个错误，在 Write 时一并返回。
type WriteBatch struct {
	db    *Engine
	batch *badger.WriteBatch
	count int
	err   error
}

// Put 添加写入操作
func (b *WriteBatch) Put(key, value []byte) {
	if len(key) == 0 || b.err != nil {
		return
	}
	b.err = b.batch.Set(key, value)
	b.count++
}

// Delete 添加删除操作
func (b *WriteBatch) Delete(key []byte) {
	if len(key) == 0 || b.err != nil {
		return
	}
	b.err = b.batch.Delete(key)
	b.count++
}

// Write 提交批量并重置
func (b *WriteBatch) Write() error {
	if b.db.closed.Load() {
		return engine.ErrClosed
	}
	if b.err != nil {
		err := b.err
		b.Reset()
		return convertError(err)
	}
	err := b.batch.Flush()
	b.renew()
	return convertError(err)
}

// Reset 丢弃未提交的操作
//
// badger WriteBatch 没有 Reset，只能取消后重建。
func (b *WriteBatch) Reset() {
	b.batch.Cancel()
	b.renew()
}

func (b *WriteBatch) renew() {
	b.batch = b.db.db.NewWriteBatch()
	b.count = 0
	b.err = nil
}

// Size 返回待写入的操作数
func (b *WriteBatch) Size() int {
	return b.count
}

var _ engine.Batch = (*WriteBatch)(nil)
