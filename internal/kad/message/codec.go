package message

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dep2p/go-kad/internal/kad/routing"
	"github.com/dep2p/go-kad/pkg/types"
)

var (
	// ErrMalformed 消息格式错误
	ErrMalformed = errors.New("message: malformed")

	// ErrVersion 协议版本不匹配
	ErrVersion = errors.New("message: unsupported protocol version")
)

// Codec 消息编解码接口
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

// MsgpackCodec 基于 msgpack 的编解码器
type MsgpackCodec struct {
	// MaxContacts 单条消息允许的最大联系人数
	MaxContacts int
}

// NewMsgpackCodec 创建编解码器
func NewMsgpackCodec(maxContacts int) *MsgpackCodec {
	return &MsgpackCodec{MaxContacts: maxContacts}
}

type wireContact struct {
	ID       []byte `msgpack:"i"`
	Addr     []byte `msgpack:"a"`
	Flags    uint8  `msgpack:"f,omitempty"`
	Instance uint8  `msgpack:"n,omitempty"`
}

type wireRecord struct {
	Key       []byte `msgpack:"k"`
	Value     []byte `msgpack:"v"`
	Creator   []byte `msgpack:"c"`
	Signature []byte `msgpack:"s,omitempty"`
}

type wireMessage struct {
	Version  uint8         `msgpack:"ver"`
	Kind     uint8         `msgpack:"kind"`
	ID       []byte        `msgpack:"id"`
	Sender   wireContact   `msgpack:"from"`
	Target   []byte        `msgpack:"target,omitempty"`
	Contacts []wireContact `msgpack:"contacts,omitempty"`
	Token    []byte        `msgpack:"token,omitempty"`
	Records  []wireRecord  `msgpack:"records,omitempty"`
	Stored   bool          `msgpack:"stored,omitempty"`
	Size     uint64        `msgpack:"size,omitempty"`
	Observed []byte        `msgpack:"observed,omitempty"`
}

func toWireContact(c routing.ContactInfo) wireContact {
	addr, _ := c.Addr.MarshalBinary()
	return wireContact{
		ID:       c.ID.Bytes(),
		Addr:     addr,
		Flags:    uint8(c.Flags),
		Instance: c.InstanceID,
	}
}

func fromWireContact(w wireContact) (routing.ContactInfo, error) {
	id, err := types.NodeIDFromBytes(w.ID)
	if err != nil {
		return routing.ContactInfo{}, err
	}
	var addr netip.AddrPort
	if err := addr.UnmarshalBinary(w.Addr); err != nil {
		return routing.ContactInfo{}, err
	}
	return routing.ContactInfo{
		ID:         id,
		Addr:       addr,
		Flags:      routing.Flags(w.Flags),
		InstanceID: w.Instance,
	}, nil
}

// Encode 编码消息
func (c *MsgpackCodec) Encode(m *Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %d", ErrMalformed, m.Kind)
	}
	w := wireMessage{
		Version: m.Version,
		Kind:    uint8(m.Kind),
		ID:      m.ID[:],
		Sender:  toWireContact(m.Sender),
		Token:   m.Token,
		Stored:  m.Stored,
		Size:    m.EstimatedSize,
		Contacts: lo.Map(m.Contacts, func(ci routing.ContactInfo, _ int) wireContact {
			return toWireContact(ci)
		}),
		Records: lo.Map(m.Records, func(r Record, _ int) wireRecord {
			return wireRecord{Key: r.Key.Bytes(), Value: r.Value, Creator: r.Creator.Bytes(), Signature: r.Signature}
		}),
	}
	if !m.Target.IsZero() {
		w.Target = m.Target.Bytes()
	}
	if m.ObservedAddr.IsValid() {
		w.Observed, _ = m.ObservedAddr.MarshalBinary()
	}
	return msgpack.Marshal(&w)
}

// Decode 解码并校验消息
func (c *MsgpackCodec) Decode(data []byte) (*Message, error) {
	var w wireMessage
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, w.Version)
	}

	m := &Message{
		Version:       w.Version,
		Kind:          Kind(w.Kind),
		Token:         w.Token,
		Stored:        w.Stored,
		EstimatedSize: w.Size,
	}
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %d", ErrMalformed, w.Kind)
	}

	id, err := uuid.FromBytes(w.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	m.ID = id

	if m.Sender, err = fromWireContact(w.Sender); err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrMalformed, err)
	}

	if len(w.Target) > 0 {
		if m.Target, err = types.KUIDFromBytes(w.Target); err != nil {
			return nil, fmt.Errorf("%w: target: %v", ErrMalformed, err)
		}
	}

	if c.MaxContacts > 0 && len(w.Contacts) > c.MaxContacts {
		return nil, fmt.Errorf("%w: %d contacts", ErrMalformed, len(w.Contacts))
	}
	for _, wc := range w.Contacts {
		ci, err := fromWireContact(wc)
		if err != nil {
			return nil, fmt.Errorf("%w: contact: %v", ErrMalformed, err)
		}
		m.Contacts = append(m.Contacts, ci)
	}

	for _, wr := range w.Records {
		key, err := types.ValueIDFromBytes(wr.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: record key: %v", ErrMalformed, err)
		}
		creator, err := types.NodeIDFromBytes(wr.Creator)
		if err != nil {
			return nil, fmt.Errorf("%w: record creator: %v", ErrMalformed, err)
		}
		m.Records = append(m.Records, Record{Key: key, Value: wr.Value, Creator: creator, Signature: wr.Signature})
	}

	if len(w.Observed) > 0 {
		if err := m.ObservedAddr.UnmarshalBinary(w.Observed); err != nil {
			return nil, fmt.Errorf("%w: observed addr: %v", ErrMalformed, err)
		}
	}
	return m, nil
}

var _ Codec = (*MsgpackCodec)(nil)
