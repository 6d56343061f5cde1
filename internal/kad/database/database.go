// Package database 实现本地键值记录存储
//
// 记录按值 ID 索引，带复制计数与过期时间。
// 存入空值表示删除（约定式墓碑）。
package database

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"github.com/dep2p/go-kad/pkg/lib/log"
	"github.com/dep2p/go-kad/pkg/types"
)

var logger = log.Logger("kad/database")

var (
	// ErrValueTooLarge 值超过大小限制
	ErrValueTooLarge = errors.New("database: value too large")

	// ErrFull 记录数达到上限
	ErrFull = errors.New("database: record limit reached")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("database: invalid config")
)

// Record 一条键值记录
type Record struct {
	Key       types.ValueID
	Value     []byte
	Creator   types.NodeID
	Signature []byte

	// NumLocs 最近一次存储时观察到的副本数
	NumLocs int

	Created   time.Time
	Published time.Time
	ExpiresAt time.Time

	// Local 由本节点 put 发布（否则是通过 STORE 收到的副本）
	Local bool
}

// Clone 深拷贝
func (r Record) Clone() Record {
	r.Value = append([]byte(nil), r.Value...)
	r.Signature = append([]byte(nil), r.Signature...)
	return r
}

// Config 数据库配置
type Config struct {
	// RecordTTL 副本记录的存活时间
	RecordTTL time.Duration

	// RepublishInterval 本地记录的重新发布间隔
	RepublishInterval time.Duration

	// MaxValueSize 单个值的最大字节数
	MaxValueSize int

	// MaxRecords 记录总数上限，0 表示不限
	MaxRecords int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		RecordTTL:         time.Hour,
		RepublishInterval: 30 * time.Minute,
		MaxValueSize:      64 << 10,
		MaxRecords:        0,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.RecordTTL <= 0 || c.RepublishInterval <= 0 || c.MaxValueSize <= 0 || c.MaxRecords < 0 {
		return ErrInvalidConfig
	}
	if c.RepublishInterval >= c.RecordTTL {
		return fmt.Errorf("%w: republish interval must be shorter than record ttl", ErrInvalidConfig)
	}
	return nil
}

// Database 本地记录存储，并发读、串行写
type Database struct {
	cfg   Config
	clock clock.Clock

	mu      sync.RWMutex
	records map[types.ValueID]*Record
}

// New 创建数据库
func New(cfg Config, clk clock.Clock) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Database{
		cfg:     cfg,
		clock:   clk,
		records: make(map[types.ValueID]*Record),
	}, nil
}

// Config 返回配置
func (d *Database) Config() Config { return d.cfg }

// Put 存入记录，空值表示删除
//
// 远端副本不会覆盖也不会删除本节点发布的同键记录，此时删除请求返回 false。
// 返回记录是否已被接受。
func (d *Database) Put(rec Record) (bool, error) {
	if len(rec.Value) == 0 {
		d.mu.Lock()
		defer d.mu.Unlock()
		if existing, ok := d.records[rec.Key]; ok && existing.Local && !rec.Local {
			logger.Debug("拒绝远端删除本地记录", "key", rec.Key.ShortString())
			return false, nil
		}
		delete(d.records, rec.Key)
		return true, nil
	}
	if len(rec.Value) > d.cfg.MaxValueSize {
		return false, ErrValueTooLarge
	}

	now := d.clock.Now()
	rec = rec.Clone()

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.records[rec.Key]
	if !ok && d.cfg.MaxRecords > 0 && len(d.records) >= d.cfg.MaxRecords {
		return false, ErrFull
	}
	if ok && existing.Local && !rec.Local {
		existing.ExpiresAt = now.Add(d.cfg.RecordTTL)
		return true, nil
	}

	if rec.Created.IsZero() {
		rec.Created = now
		if ok {
			rec.Created = existing.Created
		}
	}
	if rec.Local && rec.Published.IsZero() {
		rec.Published = now
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(d.cfg.RecordTTL)
	}
	d.records[rec.Key] = &rec
	logger.Debug("存入记录", "key", rec.Key.ShortString(), "size", len(rec.Value), "local", rec.Local)
	return true, nil
}

// Get 读取未过期的记录
func (d *Database) Get(key types.ValueID) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[key]
	if !ok || d.expired(rec, d.clock.Now()) {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Remove 删除记录
func (d *Database) Remove(key types.ValueID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.records[key]
	delete(d.records, key)
	return ok
}

// SetNumLocs 更新副本数
func (d *Database) SetNumLocs(key types.ValueID, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.records[key]; ok {
		rec.NumLocs = n
	}
}

// MarkPublished 记录一次发布（put 或重新发布）
func (d *Database) MarkPublished(key types.ValueID, numLocs int) {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.records[key]; ok {
		rec.NumLocs = numLocs
		rec.Published = now
		rec.ExpiresAt = now.Add(d.cfg.RecordTTL)
	}
}

// Records 返回所有记录的副本，用于持久化与诊断
func (d *Database) Records() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return lo.MapToSlice(d.records, func(_ types.ValueID, r *Record) Record {
		return r.Clone()
	})
}

// DueForRepublish 返回距上次发布已超过重新发布间隔的本地记录
func (d *Database) DueForRepublish() []Record {
	now := d.clock.Now()
	d.mu.RLock()
	defer d.mu.RUnlock()

	var due []Record
	for _, r := range d.records {
		if r.Local && now.Sub(r.Published) >= d.cfg.RepublishInterval {
			due = append(due, r.Clone())
		}
	}
	return due
}

// Expire 删除已过期的副本记录，返回删除数量
//
// 本地记录由重新发布续期，不在此删除。
func (d *Database) Expire() int {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for key, r := range d.records {
		if !r.Local && d.expired(r, now) {
			delete(d.records, key)
			n++
		}
	}
	if n > 0 {
		logger.Debug("清理过期记录", "count", n, "remaining", len(d.records))
	}
	return n
}

func (d *Database) expired(r *Record, now time.Time) bool {
	return !r.Local && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Len 记录数量
func (d *Database) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}
