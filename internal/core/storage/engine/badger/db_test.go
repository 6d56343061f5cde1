package badger

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kad/internal/core/storage/engine"
)

// testEngine 创建测试用引擎
func testEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := engine.DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	t.Cleanup(func() {
		assert.NoError(t, e.Close())
	})
	return e
}

func TestEngine_PutGetDelete(t *testing.T) {
	e := testEngine(t)

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	got, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	has, err := e.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, e.Delete([]byte("k")))
	_, err = e.Get([]byte("k"))
	assert.ErrorIs(t, err, engine.ErrNotFound)

	has, err = e.Has([]byte("k"))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestEngine_EmptyKey(t *testing.T) {
	e := testEngine(t)

	assert.ErrorIs(t, e.Put(nil, []byte("v")), engine.ErrEmptyKey)
	_, err := e.Get(nil)
	assert.ErrorIs(t, err, engine.ErrEmptyKey)
}

// TestEngine_BatchAndPrefix 批量写入后按前缀遍历
func TestEngine_BatchAndPrefix(t *testing.T) {
	e := testEngine(t)

	b := e.NewBatch()
	for i := 0; i < 5; i++ {
		b.Put([]byte(fmt.Sprintf("a/%d", i)), []byte{byte(i)})
	}
	b.Put([]byte("b/0"), []byte{9})
	assert.Equal(t, 6, b.Size())
	require.NoError(t, e.Write(b))
	assert.Equal(t, 0, b.Size())

	iter := e.NewPrefixIterator([]byte("a/"))
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
		assert.Len(t, iter.Value(), 1)
	}
	require.NoError(t, iter.Error())
	assert.Equal(t, []string{"a/0", "a/1", "a/2", "a/3", "a/4"}, keys)
}

func TestEngine_Closed(t *testing.T) {
	cfg := engine.DefaultConfig(filepath.Join(t.TempDir(), "closed.db"))
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Get([]byte("k"))
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, e.Put([]byte("k"), nil), engine.ErrClosed)
}

// TestEngine_InMemory 内存模式不需要目录，关闭后数据不保留
func TestEngine_InMemory(t *testing.T) {
	e, err := New(engine.InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, e.Start())

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	got, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	require.NoError(t, e.Close())
}

// TestEngine_GCLoopStops 模拟时钟驱动 GC，关闭时循环退出
func TestEngine_GCLoopStops(t *testing.T) {
	mock := clock.NewMock()
	cfg := engine.DefaultConfig(filepath.Join(t.TempDir(), "gc.db"))
	cfg.GCInterval = time.Minute
	cfg.Clock = mock

	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	mock.Add(time.Minute)
	mock.Add(time.Minute)
	assert.NoError(t, e.Close())
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, (&engine.Config{}).Validate(), engine.ErrInvalidConfig)
	assert.NoError(t, engine.InMemoryConfig().Validate())

	cfg := engine.DefaultConfig("x")
	require.NoError(t, cfg.Validate())

	cfg.GCDiscardRatio = 1
	assert.ErrorIs(t, cfg.Validate(), engine.ErrInvalidConfig)
}

// TestConvertError 底层错误只映射到引擎导出的几类错误，其余原样返回
func TestConvertError(t *testing.T) {
	assert.NoError(t, convertError(nil))
	assert.ErrorIs(t, convertError(badger.ErrKeyNotFound), engine.ErrNotFound)
	assert.ErrorIs(t, convertError(badger.ErrEmptyKey), engine.ErrEmptyKey)
	assert.ErrorIs(t, convertError(badger.ErrDBClosed), engine.ErrClosed)
	assert.True(t, engine.IsNotFound(fmt.Errorf("wrap: %w", convertError(badger.ErrKeyNotFound))))

	other := errors.New("disk full")
	assert.Same(t, other, convertError(other))
}
