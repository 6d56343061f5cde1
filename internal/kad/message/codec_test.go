package message

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/types"
)

func testSender() routing.ContactInfo {
	return routing.ContactInfo{
		ID:         types.RandomNodeID(),
		Addr:       netip.MustParseAddrPort("10.0.0.1:4000"),
		InstanceID: 3,
	}
}

func TestKind(t *testing.T) {
	assert.True(t, KindPing.IsRequest())
	assert.False(t, KindPong.IsRequest())
	assert.Equal(t, KindStoreResponse, KindStore.ResponseKind())
	assert.Equal(t, Kind(0), KindPong.ResponseKind())
	assert.Equal(t, "FIND_VALUE", KindFindValue.String())
	assert.False(t, Kind(42).Valid())
}

// TestCodec_FindValueResponse 响应保留请求 ID 与全部字段
func TestCodec_FindValueResponse(t *testing.T) {
	codec := NewMsgpackCodec(20)
	key := types.ValueIDForKey([]byte("k"))
	req := NewFindValue(testSender(), key)

	resp := req.Reply(testSender())
	resp.Token = []byte{1, 2, 3}
	resp.EstimatedSize = 1234
	resp.Contacts = []routing.ContactInfo{testSender(), testSender()}
	resp.Records = []Record{{Key: key, Value: []byte("v"), Creator: types.RandomNodeID(), Signature: []byte("sig")}}

	data, err := codec.Encode(resp)
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, KindFindValueResponse, got.Kind)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, resp.Sender, got.Sender)
	assert.Equal(t, resp.Contacts, got.Contacts)
	assert.Equal(t, resp.Records, got.Records)
	assert.Equal(t, resp.Token, got.Token)
	assert.Equal(t, uint64(1234), got.EstimatedSize)
}

func TestCodec_PongObservedAddr(t *testing.T) {
	codec := NewMsgpackCodec(0)
	pong := NewPing(testSender()).Reply(testSender())
	pong.ObservedAddr = netip.MustParseAddrPort("[2001:db8::1]:9000")

	data, err := codec.Encode(pong)
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, pong.ObservedAddr, got.ObservedAddr)
	assert.True(t, got.Target.IsZero())
}

func TestCodec_RejectsMalformed(t *testing.T) {
	codec := NewMsgpackCodec(1)

	_, err := codec.Decode([]byte{0xc1})
	assert.ErrorIs(t, err, ErrMalformed)

	bad, err := msgpack.Marshal(&wireMessage{Version: ProtocolVersion, Kind: 99})
	require.NoError(t, err)
	_, err = codec.Decode(bad)
	assert.ErrorIs(t, err, ErrMalformed)

	old, err := msgpack.Marshal(&wireMessage{Version: 0, Kind: uint8(KindPing)})
	require.NoError(t, err)
	_, err = codec.Decode(old)
	assert.ErrorIs(t, err, ErrVersion)

	resp := NewFindNode(testSender(), types.RandomNodeID()).Reply(testSender())
	resp.Contacts = []routing.ContactInfo{testSender(), testSender()}
	data, err := codec.Encode(resp)
	require.NoError(t, err)
	_, err = codec.Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)
}
