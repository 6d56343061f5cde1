// Package types 定义 go-kad 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"math/bits"

	"lukechampine.com/blake3"
)

// ============================================================================
//                              KUID - 160 位标识
// ============================================================================

// KUIDLength KUID 字节长度
const KUIDLength = 20

// KUIDBits KUID 位数
const KUIDBits = KUIDLength * 8

// ErrInvalidKUID 无效的 KUID
var ErrInvalidKUID = errors.New("invalid KUID: must be 20 bytes")

// KUID 160 位标识符
//
// 节点 ID 和值 ID 共享同一表示，通过 NodeID / ValueID 两个
// 独立类型区分，混用在编译期即被拒绝。
type KUID [KUIDLength]byte

// ZeroKUID 全零 KUID
var ZeroKUID KUID

// Xor 返回 XOR 距离
func (k KUID) Xor(o KUID) KUID {
	var d KUID
	for i := range k {
		d[i] = k[i] ^ o[i]
	}
	return d
}

// Compare 按大端无符号整数比较
func (k KUID) Compare(o KUID) int {
	return bytes.Compare(k[:], o[:])
}

// IsZero 是否全零
func (k KUID) IsZero() bool {
	return k == ZeroKUID
}

// Bit 返回第 i 位（0 为最高位）
func (k KUID) Bit(i int) int {
	return int(k[i/8]>>(7-uint(i%8))) & 1
}

// SetBit 返回第 i 位被设为 v 的副本
func (k KUID) SetBit(i int, v int) KUID {
	mask := byte(1) << (7 - uint(i%8))
	if v == 0 {
		k[i/8] &^= mask
	} else {
		k[i/8] |= mask
	}
	return k
}

// CommonPrefixLen 共同前缀位数
func (k KUID) CommonPrefixLen(o KUID) int {
	for i := range k {
		if x := k[i] ^ o[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return KUIDBits
}

// Big 返回大整数表示
func (k KUID) Big() *big.Int {
	return new(big.Int).SetBytes(k[:])
}

// Bytes 返回字节切片副本
func (k KUID) Bytes() []byte {
	b := make([]byte, KUIDLength)
	copy(b, k[:])
	return b
}

// String 十六进制表示
func (k KUID) String() string {
	return hex.EncodeToString(k[:])
}

// ShortString 日志用短表示
func (k KUID) ShortString() string {
	return hex.EncodeToString(k[:4])
}

// MarshalText 实现 encoding.TextMarshaler（持久化与配置使用十六进制）
func (k KUID) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *KUID) UnmarshalText(text []byte) error {
	parsed, err := KUIDFromHex(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// RandomInPrefix 返回与 k 共享前 depth 位、其余位随机的 KUID
//
// 用于为某个桶生成刷新目标。
func (k KUID) RandomInPrefix(depth int) KUID {
	r := RandomKUID()
	if depth <= 0 {
		return r
	}
	if depth >= KUIDBits {
		return k
	}
	full := depth / 8
	copy(r[:full], k[:full])
	if rem := depth % 8; rem != 0 {
		mask := byte(0xff) << (8 - uint(rem))
		r[full] = (k[full] & mask) | (r[full] &^ mask)
	}
	return r
}

// RandomKUID 生成随机 KUID
func RandomKUID() KUID {
	var k KUID
	if _, err := rand.Read(k[:]); err != nil {
		panic("types: crypto/rand failed: " + err.Error())
	}
	return k
}

// KUIDFromBytes 从字节创建 KUID
func KUIDFromBytes(b []byte) (KUID, error) {
	var k KUID
	if len(b) != KUIDLength {
		return k, ErrInvalidKUID
	}
	copy(k[:], b)
	return k, nil
}

// KUIDFromHex 从十六进制字符串创建 KUID
func KUIDFromHex(s string) (KUID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroKUID, ErrInvalidKUID
	}
	return KUIDFromBytes(b)
}

// CompareDistance 比较 a、b 到 target 的距离
//
// 返回 -1 / 0 / 1。
func CompareDistance(a, b, target KUID) int {
	for i := range target {
		da, db := a[i]^target[i], b[i]^target[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ============================================================================
//                              NodeID / ValueID
// ============================================================================

// NodeID 节点标识
type NodeID struct{ KUID }

// ValueID 值标识
type ValueID struct{ KUID }

// RandomNodeID 生成随机节点 ID
func RandomNodeID() NodeID {
	return NodeID{RandomKUID()}
}

// NodeIDFromBytes 从字节创建节点 ID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	k, err := KUIDFromBytes(b)
	return NodeID{k}, err
}

// NodeIDFromHex 从十六进制创建节点 ID
func NodeIDFromHex(s string) (NodeID, error) {
	k, err := KUIDFromHex(s)
	return NodeID{k}, err
}

// ValueIDFromBytes 从字节创建值 ID
func ValueIDFromBytes(b []byte) (ValueID, error) {
	k, err := KUIDFromBytes(b)
	return ValueID{k}, err
}

// ValueIDFromHex 从十六进制创建值 ID
func ValueIDFromHex(s string) (ValueID, error) {
	k, err := KUIDFromHex(s)
	return ValueID{k}, err
}

// ValueIDForKey 由应用层键派生值 ID（BLAKE3，160 位输出）
func ValueIDForKey(key []byte) ValueID {
	var v ValueID
	h := blake3.New(KUIDLength, nil)
	h.Write(key)
	copy(v.KUID[:], h.Sum(nil))
	return v
}

// NodeID 返回存储该值时使用的查找目标
func (v ValueID) NodeID() NodeID {
	return NodeID{v.KUID}
}

// Distance 返回两个节点 ID 的 XOR 距离
func (n NodeID) Distance(o NodeID) KUID {
	return n.Xor(o.KUID)
}

// CloserTo 判断 n 是否比 o 更接近 target
func (n NodeID) CloserTo(o NodeID, target NodeID) bool {
	return CompareDistance(n.KUID, o.KUID, target.KUID) < 0
}
