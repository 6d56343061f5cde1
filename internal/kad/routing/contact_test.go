package routing

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kad/pkg/types"
)

func testPolicy() *Policy {
	p := DefaultPolicy()
	return &p
}

func testInfo(first, last byte, port uint16) ContactInfo {
	var id types.NodeID
	id.KUID[0] = first
	id.KUID[19] = last
	return ContactInfo{ID: id, Addr: netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)}
}

// TestContact_UnknownThreshold 从未确认的联系人使用更严格的阈值
func TestContact_UnknownThreshold(t *testing.T) {
	c := NewContact(testInfo(1, 1, 1000), testPolicy())
	now := time.Now()

	assert.True(t, c.IsUnknown())
	assert.False(t, c.Failure(now))
	assert.True(t, c.Failure(now))
	assert.True(t, c.IsDead())
}

func TestContact_AliveThreshold(t *testing.T) {
	c := NewContact(testInfo(1, 1, 1000), testPolicy())
	now := time.Now()
	c.Alive(now)
	assert.True(t, c.IsAlive())
	assert.Equal(t, now, c.LastSeen())

	for i := 1; i < 4; i++ {
		assert.False(t, c.Failure(now), "failure %d", i)
	}
	assert.True(t, c.Failure(now))
	assert.True(t, c.IsDead())
	assert.False(t, c.IsAlive())
}

// TestContact_FailuresMonotonic 失败计数只会被 Alive/UnknownState 降低
func TestContact_FailuresMonotonic(t *testing.T) {
	c := NewContact(testInfo(1, 1, 1000), testPolicy())
	now := time.Now()

	prev := 0
	for i := 0; i < 10; i++ {
		c.Failure(now)
		c.SetRTT(time.Millisecond)
		_ = c.AdaptiveTimeout()
		assert.GreaterOrEqual(t, c.Failures(), prev)
		prev = c.Failures()
	}

	c.Alive(now)
	assert.Equal(t, 0, c.Failures())

	c.Failure(now)
	c.UnknownState()
	assert.Equal(t, 0, c.Failures())
	assert.True(t, c.IsUnknown())
	assert.Equal(t, UnknownRTT, c.RTT())
}

func TestContact_AdaptiveTimeout(t *testing.T) {
	p := testPolicy()
	p.MinTimeout = 10 * time.Millisecond
	p.MaxTimeout = time.Second
	c := NewContact(testInfo(1, 1, 1000), p)
	now := time.Now()

	// RTT 未知
	assert.Equal(t, time.Second, c.AdaptiveTimeout())

	c.Alive(now)
	c.SetRTT(100 * time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, c.AdaptiveTimeout())

	c.Failure(now)
	assert.Equal(t, 300*time.Millisecond, c.AdaptiveTimeout())

	c.SetRTT(400 * time.Millisecond)
	assert.Equal(t, time.Second, c.AdaptiveTimeout())

	c.Alive(now)
	c.SetRTT(time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, c.AdaptiveTimeout())

	for !c.Failure(now) {
	}
	assert.Equal(t, time.Second, c.AdaptiveTimeout())
}

func TestContact_Equal(t *testing.T) {
	p := testPolicy()
	a := NewContact(testInfo(1, 1, 1000), p)
	b := NewContact(testInfo(1, 1, 1000), p)
	c := NewContact(testInfo(1, 1, 1001), p)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

func TestContact_RefreshInstance(t *testing.T) {
	c := NewContact(testInfo(1, 1, 1000), testPolicy())
	c.Alive(time.Now())
	c.SetRTT(time.Millisecond)
	c.Failure(time.Now())

	info := c.Info()
	info.InstanceID = 7
	assert.False(t, c.refresh(info, false))
	assert.Equal(t, 1, c.Failures())

	require.True(t, c.refresh(info, true))
	assert.Equal(t, 0, c.Failures())
	assert.Equal(t, UnknownRTT, c.RTT())
	assert.Equal(t, uint8(7), c.Info().InstanceID)
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxFailuresForUnknown = 9
	assert.ErrorIs(t, p.Validate(), ErrInvalidConfig)

	p = DefaultPolicy()
	p.MaxTimeout = p.MinTimeout / 2
	assert.ErrorIs(t, p.Validate(), ErrInvalidConfig)
}
