package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKUID_DistanceLaws 距离对称、自反、非零
func TestKUID_DistanceLaws(t *testing.T) {
	for i := 0; i < 200; i++ {
		a, b := RandomKUID(), RandomKUID()
		assert.Equal(t, a.Xor(b), b.Xor(a))
		assert.True(t, a.Xor(a).IsZero())
		if a != b {
			assert.False(t, a.Xor(b).IsZero())
		}
	}
}

func TestKUID_CompareDistance(t *testing.T) {
	var target, near, far KUID
	near[19] = 0x01
	far[0] = 0x80

	assert.Equal(t, -1, CompareDistance(near, far, target))
	assert.Equal(t, 1, CompareDistance(far, near, target))
	assert.Equal(t, 0, CompareDistance(near, near, target))
}

func TestKUID_CommonPrefixLen(t *testing.T) {
	var a, b KUID
	assert.Equal(t, KUIDBits, a.CommonPrefixLen(b))

	b[0] = 0x80
	assert.Equal(t, 0, a.CommonPrefixLen(b))

	b[0] = 0x00
	b[2] = 0x10
	assert.Equal(t, 19, a.CommonPrefixLen(b))
}

func TestKUID_BitAndSetBit(t *testing.T) {
	var k KUID
	k = k.SetBit(0, 1).SetBit(9, 1)
	assert.Equal(t, 1, k.Bit(0))
	assert.Equal(t, 0, k.Bit(1))
	assert.Equal(t, 1, k.Bit(9))
	assert.Equal(t, byte(0x80), k[0])
	assert.Equal(t, byte(0x40), k[1])

	k = k.SetBit(0, 0)
	assert.Equal(t, 0, k.Bit(0))
}

func TestKUID_RandomInPrefix(t *testing.T) {
	base := RandomKUID()
	for depth := 0; depth <= KUIDBits; depth += 7 {
		r := base.RandomInPrefix(depth)
		assert.GreaterOrEqual(t, base.CommonPrefixLen(r), depth)
	}
}

func TestKUID_HexRoundTrip(t *testing.T) {
	k := RandomKUID()
	got, err := KUIDFromHex(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, got)

	_, err = KUIDFromHex("abcd")
	assert.ErrorIs(t, err, ErrInvalidKUID)
	_, err = KUIDFromBytes(make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidKUID)
}

// TestValueIDForKey 派生确定、键不同则 ID 不同
func TestValueIDForKey(t *testing.T) {
	a := ValueIDForKey([]byte("alpha"))
	assert.Equal(t, a, ValueIDForKey([]byte("alpha")))
	assert.NotEqual(t, a, ValueIDForKey([]byte("beta")))
	assert.Equal(t, a.KUID, a.NodeID().KUID)
}

func TestNodeID_CloserTo(t *testing.T) {
	var target, a, b NodeID
	a.KUID[19] = 1
	b.KUID[19] = 2
	assert.True(t, a.CloserTo(b, target))
	assert.False(t, b.CloserTo(a, target))
	assert.Equal(t, a.KUID, a.Distance(target))
}
