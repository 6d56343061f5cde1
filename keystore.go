package kad

import (
	"github.com/dep2p/go-kad/pkg/interfaces"
	"github.com/dep2p/go-kad/pkg/types"
)

// NopKeyStore 不签名、接受一切记录的 KeyStore
//
// 未通过 WithKeyStore 指定时使用。
type NopKeyStore struct{}

var _ interfaces.KeyStore = NopKeyStore{}

// Sign 返回空签名
func (NopKeyStore) Sign(types.ValueID, []byte) ([]byte, error) { return nil, nil }

// Verify 总是通过
func (NopKeyStore) Verify(types.NodeID, types.ValueID, []byte, []byte) bool { return true }
