// Package kv 提供带前缀隔离的 KV 存储抽象层
//
// 键空间约定：
//   - c/ - 路由表联系人快照
//   - r/ - 数据库记录快照
//   - m/ - 节点元数据（实例号等）
package kv

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/dep2p/go-kad/internal/core/storage/engine"
)

// Store 带前缀隔离的 KV 存储
type Store struct {
	engine engine.InternalEngine
	prefix []byte
	mu     sync.Mutex
}

// New 创建新的 KVStore，所有键自动加上 prefix
func New(eng engine.InternalEngine, prefix []byte) *Store {
	return &Store{
		engine: eng,
		prefix: append([]byte(nil), prefix...),
	}
}

func (s *Store) prefixKey(key []byte) []byte {
	prefixed := make([]byte, len(s.prefix)+len(key))
	copy(prefixed, s.prefix)
	copy(prefixed[len(s.prefix):], key)
	return prefixed
}

func (s *Store) stripPrefix(key []byte) []byte {
	if len(key) < len(s.prefix) {
		return key
	}
	return key[len(s.prefix):]
}

// Get 获取指定键的值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 设置键值对
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// GetUint64 获取 uint64 值
func (s *Store) GetUint64(key []byte) (uint64, error) {
	data, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, engine.ErrCorrupted
	}
	return binary.BigEndian.Uint64(data), nil
}

// IncrUint64 原子递增 uint64 值，键不存在时从 0 开始
func (s *Store) IncrUint64(key []byte, delta uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.GetUint64(key)
	if err != nil && !engine.IsNotFound(err) {
		return 0, err
	}

	next := current + delta
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, next)
	if err := s.Put(key, data); err != nil {
		return 0, err
	}
	return next, nil
}

// PrefixScan 扫描子前缀下的所有键值对
//
// 回调返回 false 时停止。回调拿到的 key 已去除 Store 的前缀。
func (s *Store) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	iter := s.engine.NewPrefixIterator(s.prefixKey(subPrefix))
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(s.stripPrefix(iter.Key()), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// ReplacePrefix 在一个批量内删除子前缀下的旧键并写入 entries
func (s *Store) ReplacePrefix(subPrefix []byte, entries map[string][]byte) error {
	var old [][]byte
	err := s.PrefixScan(subPrefix, func(key, _ []byte) bool {
		old = append(old, key)
		return true
	})
	if err != nil {
		return err
	}

	batch := s.engine.NewBatch()
	for _, key := range old {
		if _, keep := entries[string(key)]; !keep {
			batch.Delete(s.prefixKey(key))
		}
	}
	for key, value := range entries {
		batch.Put(s.prefixKey([]byte(key)), value)
	}
	return s.engine.Write(batch)
}

// ReplaceJSON 把 items 编码为 JSON，整体替换 subPrefix 下的旧值
//
// keyOf 返回条目在 subPrefix 之后的键。
func ReplaceJSON[T any](s *Store, subPrefix []byte, items []T, keyOf func(T) string) error {
	entries := make(map[string][]byte, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		entries[string(subPrefix)+keyOf(item)] = data
	}
	return s.ReplacePrefix(subPrefix, entries)
}

// ScanJSON 解码 subPrefix 下的全部 JSON 值
//
// 解码失败的条目交给 onCorrupt 后跳过，onCorrupt 可以为 nil。
func ScanJSON[T any](s *Store, subPrefix []byte, onCorrupt func(key []byte, err error)) ([]T, error) {
	var out []T
	err := s.PrefixScan(subPrefix, func(key, value []byte) bool {
		var item T
		if err := json.Unmarshal(value, &item); err != nil {
			if onCorrupt != nil {
				onCorrupt(key, err)
			}
			return true
		}
		out = append(out, item)
		return true
	})
	return out, err
}
