package interfaces

import "github.com/dep2p/go-kad/pkg/types"

// KeyStore 记录签名接口
//
// 签名算法由实现决定，DHT 算法本身不依赖签名的正确性。
type KeyStore interface {
	// Sign 为本节点发布的记录签名
	Sign(key types.ValueID, value []byte) ([]byte, error)

	// Verify 校验 creator 对记录的签名
	Verify(creator types.NodeID, key types.ValueID, value, signature []byte) bool
}
