// Package security 生成与校验 STORE 授权令牌
//
// 令牌由节点在 FIND_NODE / FIND_VALUE 响应中发给请求方，请求方随后在
// STORE 中带回。令牌绑定请求方的节点 ID 与地址，使用带密钥的 BLAKE3 计算。
// 密钥定期轮换，上一把密钥在下一次轮换前仍然有效。
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"net/netip"
	"sync"

	"lukechampine.com/blake3"

	"github.com/dep2p/go-kad/pkg/types"
)

// TokenSize 令牌字节数
const TokenSize = 16

// Tokens 令牌生成器
type Tokens struct {
	mu       sync.RWMutex
	current  [32]byte
	previous [32]byte
	rotated  uint64
}

// NewTokens 创建令牌生成器，随机初始化密钥
func NewTokens() *Tokens {
	t := &Tokens{}
	t.current = randomSecret()
	t.previous = t.current
	return t
}

func randomSecret() [32]byte {
	var s [32]byte
	if _, err := rand.Read(s[:]); err != nil {
		panic("security: crypto/rand failed: " + err.Error())
	}
	return s
}

func compute(secret *[32]byte, id types.NodeID, addr netip.AddrPort) []byte {
	h := blake3.New(TokenSize, secret[:])
	h.Write(id.KUID[:])
	b, _ := addr.MarshalBinary()
	h.Write(b)
	return h.Sum(nil)
}

// Generate 为请求方生成令牌
func (t *Tokens) Generate(id types.NodeID, addr netip.AddrPort) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return compute(&t.current, id, addr)
}

// Verify 校验令牌，当前或上一把密钥生成的都接受
func (t *Tokens) Verify(id types.NodeID, addr netip.AddrPort, token []byte) bool {
	if len(token) != TokenSize {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if subtle.ConstantTimeCompare(compute(&t.current, id, addr), token) == 1 {
		return true
	}
	return subtle.ConstantTimeCompare(compute(&t.previous, id, addr), token) == 1
}

// Rotate 轮换密钥
func (t *Tokens) Rotate() {
	next := randomSecret()
	t.mu.Lock()
	t.previous = t.current
	t.current = next
	t.rotated++
	t.mu.Unlock()
}

// Rotations 已轮换次数
func (t *Tokens) Rotations() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rotated
}
