package database

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kad/pkg/types"
)

func newTestDB(t *testing.T) (*Database, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	db, err := New(DefaultConfig(), clk)
	require.NoError(t, err)
	return db, clk
}

func TestDatabase_PutGet(t *testing.T) {
	db, _ := newTestDB(t)
	key := types.ValueIDForKey([]byte("k"))

	ok, err := db.Put(Record{Key: key, Value: []byte("v"), Local: true})
	require.NoError(t, err)
	assert.True(t, ok)

	rec, found := db.Get(key)
	require.True(t, found)
	assert.Equal(t, []byte("v"), rec.Value)
	assert.False(t, rec.Created.IsZero())

	// 返回值是副本
	rec.Value[0] = 'x'
	again, _ := db.Get(key)
	assert.Equal(t, []byte("v"), again.Value)
}

// TestDatabase_EmptyValueDeletes 空值即删除
func TestDatabase_EmptyValueDeletes(t *testing.T) {
	db, _ := newTestDB(t)
	key := types.ValueIDForKey([]byte("k"))

	_, err := db.Put(Record{Key: key, Value: []byte("v")})
	require.NoError(t, err)
	_, err = db.Put(Record{Key: key})
	require.NoError(t, err)

	_, found := db.Get(key)
	assert.False(t, found)
	assert.Equal(t, 0, db.Len())
}

func TestDatabase_ValueTooLarge(t *testing.T) {
	db, _ := newTestDB(t)
	big := make([]byte, db.Config().MaxValueSize+1)
	_, err := db.Put(Record{Key: types.ValueIDForKey([]byte("k")), Value: big})
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestDatabase_RemoteDoesNotOverwriteLocal(t *testing.T) {
	db, _ := newTestDB(t)
	key := types.ValueIDForKey([]byte("k"))

	_, err := db.Put(Record{Key: key, Value: []byte("mine"), Local: true})
	require.NoError(t, err)
	ok, err := db.Put(Record{Key: key, Value: []byte("theirs")})
	require.NoError(t, err)
	assert.True(t, ok)

	rec, _ := db.Get(key)
	assert.Equal(t, []byte("mine"), rec.Value)
	assert.True(t, rec.Local)
}

// TestDatabase_RemoteTombstoneKeepsLocal 远端空值不能删除本地记录
func TestDatabase_RemoteTombstoneKeepsLocal(t *testing.T) {
	db, _ := newTestDB(t)
	key := types.ValueIDForKey([]byte("k"))

	_, err := db.Put(Record{Key: key, Value: []byte("mine"), Local: true})
	require.NoError(t, err)

	ok, err := db.Put(Record{Key: key})
	require.NoError(t, err)
	assert.False(t, ok)

	rec, found := db.Get(key)
	require.True(t, found)
	assert.Equal(t, []byte("mine"), rec.Value)

	// 本地删除仍然生效
	ok, err = db.Put(Record{Key: key, Local: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, db.Len())
}

func TestDatabase_ExpireAndRepublish(t *testing.T) {
	db, clk := newTestDB(t)
	cfg := db.Config()
	local := types.ValueIDForKey([]byte("local"))
	remote := types.ValueIDForKey([]byte("remote"))

	_, _ = db.Put(Record{Key: local, Value: []byte("a"), Local: true})
	_, _ = db.Put(Record{Key: remote, Value: []byte("b")})

	assert.Empty(t, db.DueForRepublish())
	clk.Add(cfg.RepublishInterval)
	due := db.DueForRepublish()
	require.Len(t, due, 1)
	assert.Equal(t, local, due[0].Key)

	db.MarkPublished(local, 3)
	assert.Empty(t, db.DueForRepublish())

	clk.Add(cfg.RecordTTL)
	_, found := db.Get(remote)
	assert.False(t, found)
	assert.Equal(t, 1, db.Expire())

	rec, found := db.Get(local)
	require.True(t, found)
	assert.Equal(t, 3, rec.NumLocs)
}

func TestDatabase_MaxRecords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecords = 1
	db, err := New(cfg, clock.NewMock())
	require.NoError(t, err)

	_, err = db.Put(Record{Key: types.ValueIDForKey([]byte("a")), Value: []byte("a")})
	require.NoError(t, err)
	_, err = db.Put(Record{Key: types.ValueIDForKey([]byte("b")), Value: []byte("b")})
	assert.ErrorIs(t, err, ErrFull)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RepublishInterval = 2 * time.Hour
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
