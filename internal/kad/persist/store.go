// Package persist 基于 BadgerDB 的路由表与数据库快照存储
//
// 键布局（都在 "kad/" 前缀下）：
//
//	c/<node-id>   联系人快照
//	r/<value-id>  记录快照
//	m/instance    实例号计数器
package persist

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/go-kad/internal/core/storage/engine"
	"github.com/dep2p/go-kad/internal/core/storage/engine/badger"
	"github.com/dep2p/go-kad/internal/core/storage/kv"
	"github.com/dep2p/go-kad/pkg/interfaces"
	"github.com/dep2p/go-kad/pkg/lib/log"
)

var logger = log.Logger("kad/persist")

var (
	prefixContacts = []byte("c/")
	prefixRecords  = []byte("r/")
	keyInstance    = []byte("m/instance")
)

// Store 实现 interfaces.PersistenceStore
type Store struct {
	eng *badger.Engine
	kv  *kv.Store

	closeOnce sync.Once
	closeErr  error
}

var _ interfaces.PersistenceStore = (*Store)(nil)

// Open 打开 path 下的快照存储
func Open(path string) (*Store, error) {
	return OpenWithConfig(engine.DefaultConfig(path))
}

// OpenWithConfig 使用完整引擎配置打开
func OpenWithConfig(cfg *engine.Config) (*Store, error) {
	eng, err := badger.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := eng.Start(); err != nil {
		return nil, multierr.Append(err, eng.Close())
	}
	return &Store{
		eng: eng,
		kv:  kv.New(eng, []byte("kad/")),
	}, nil
}

// SaveContacts 整体替换联系人快照
func (s *Store) SaveContacts(contacts []interfaces.ContactSnapshot) error {
	err := kv.ReplaceJSON(s.kv, prefixContacts, contacts, func(c interfaces.ContactSnapshot) string {
		return c.NodeID.String()
	})
	if err != nil {
		return err
	}
	logger.Debug("联系人快照已保存", "count", len(contacts))
	return nil
}

// LoadContacts 读取联系人快照，损坏的条目被跳过
func (s *Store) LoadContacts() ([]interfaces.ContactSnapshot, error) {
	return kv.ScanJSON[interfaces.ContactSnapshot](s.kv, prefixContacts, skipCorrupt("联系人"))
}

// SaveRecords 整体替换记录快照
func (s *Store) SaveRecords(records []interfaces.RecordSnapshot) error {
	err := kv.ReplaceJSON(s.kv, prefixRecords, records, func(r interfaces.RecordSnapshot) string {
		return r.Key.String()
	})
	if err != nil {
		return err
	}
	logger.Debug("记录快照已保存", "count", len(records))
	return nil
}

// LoadRecords 读取记录快照，损坏的条目被跳过
func (s *Store) LoadRecords() ([]interfaces.RecordSnapshot, error) {
	return kv.ScanJSON[interfaces.RecordSnapshot](s.kv, prefixRecords, skipCorrupt("记录"))
}

func skipCorrupt(kind string) func([]byte, error) {
	return func(key []byte, err error) {
		logger.Warn("跳过损坏的快照条目", "kind", kind, "key", string(key), "error", err)
	}
}

// NextInstanceID 递增并返回实例号，按 uint8 回绕
func (s *Store) NextInstanceID() (uint8, error) {
	n, err := s.kv.IncrUint64(keyInstance, 1)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// Close 刷盘并关闭引擎
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = multierr.Combine(s.eng.Sync(), s.eng.Close())
	})
	return s.closeErr
}
