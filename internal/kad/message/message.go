// Package message 定义 DHT 消息及其编解码
package message

import (
	"net/netip"

	"github.com/google/uuid"

	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/types"
)

// ProtocolVersion 协议版本
const ProtocolVersion uint8 = 1

// ============================================================================
//                              消息类型
// ============================================================================

// Kind 消息类型
type Kind uint8

const (
	// KindPing PING 请求
	KindPing Kind = iota + 1
	// KindPong PING 响应
	KindPong

	// KindFindNode FIND_NODE 请求
	KindFindNode
	// KindFindNodeResponse FIND_NODE 响应
	KindFindNodeResponse

	// KindFindValue FIND_VALUE 请求
	KindFindValue
	// KindFindValueResponse FIND_VALUE 响应
	KindFindValueResponse

	// KindStore STORE 请求
	KindStore
	// KindStoreResponse STORE 响应
	KindStoreResponse
)

// String 返回消息类型的字符串表示
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindFindNode:
		return "FIND_NODE"
	case KindFindNodeResponse:
		return "FIND_NODE_RESPONSE"
	case KindFindValue:
		return "FIND_VALUE"
	case KindFindValueResponse:
		return "FIND_VALUE_RESPONSE"
	case KindStore:
		return "STORE"
	case KindStoreResponse:
		return "STORE_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Valid 是否为已知类型
func (k Kind) Valid() bool {
	return k >= KindPing && k <= KindStoreResponse
}

// IsRequest 是否为请求
func (k Kind) IsRequest() bool {
	return k.Valid() && k%2 == 1
}

// ResponseKind 请求对应的响应类型
func (k Kind) ResponseKind() Kind {
	if !k.IsRequest() {
		return 0
	}
	return k + 1
}

// ============================================================================
//                              消息结构
// ============================================================================

// Record 消息中携带的记录
type Record struct {
	Key       types.ValueID
	Value     []byte
	Creator   types.NodeID
	Signature []byte
}

// Message DHT 消息
//
// 请求与响应共用一个结构，未使用的字段保持零值：
//   - FIND_NODE / FIND_VALUE 请求: Target
//   - FIND_NODE 响应: Contacts, Token
//   - FIND_VALUE 响应: Records 或 Contacts, Token
//   - STORE 请求: Records, Token
//   - STORE 响应: Stored
//   - PONG: ObservedAddr
//
// 所有响应都可以携带 EstimatedSize。
type Message struct {
	Version uint8
	Kind    Kind

	// ID 请求随机数，响应沿用请求的 ID
	ID     uuid.UUID
	Sender routing.ContactInfo

	Target   types.KUID
	Contacts []routing.ContactInfo
	Token    []byte
	Records  []Record
	Stored   bool

	EstimatedSize uint64
	ObservedAddr  netip.AddrPort
}

// NewRequest 创建带新随机数的请求
func NewRequest(kind Kind, sender routing.ContactInfo) *Message {
	return &Message{
		Version: ProtocolVersion,
		Kind:    kind,
		ID:      uuid.New(),
		Sender:  sender,
	}
}

// NewPing 创建 PING 请求
func NewPing(sender routing.ContactInfo) *Message {
	return NewRequest(KindPing, sender)
}

// NewFindNode 创建 FIND_NODE 请求
func NewFindNode(sender routing.ContactInfo, target types.NodeID) *Message {
	m := NewRequest(KindFindNode, sender)
	m.Target = target.KUID
	return m
}

// NewFindValue 创建 FIND_VALUE 请求
func NewFindValue(sender routing.ContactInfo, key types.ValueID) *Message {
	m := NewRequest(KindFindValue, sender)
	m.Target = key.KUID
	return m
}

// NewStore 创建 STORE 请求
func NewStore(sender routing.ContactInfo, token []byte, records ...Record) *Message {
	m := NewRequest(KindStore, sender)
	m.Token = token
	m.Records = records
	return m
}

// Reply 创建对本请求的响应
func (m *Message) Reply(sender routing.ContactInfo) *Message {
	return &Message{
		Version: ProtocolVersion,
		Kind:    m.Kind.ResponseKind(),
		ID:      m.ID,
		Sender:  sender,
	}
}

// TargetNode FIND_NODE 目标
func (m *Message) TargetNode() types.NodeID {
	return types.NodeID{KUID: m.Target}
}

// TargetValue FIND_VALUE 目标
func (m *Message) TargetValue() types.ValueID {
	return types.ValueID{KUID: m.Target}
}
