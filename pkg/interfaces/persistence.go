package interfaces

import (
	"time"

	"github.com/dep2p/go-kad/pkg/types"
)

// ContactSnapshot 联系人快照
type ContactSnapshot struct {
	NodeID     types.NodeID  `json:"node_id"`
	Addr       string        `json:"addr"`
	Flags      uint8         `json:"flags,omitempty"`
	InstanceID uint8         `json:"instance_id"`
	Failures   int           `json:"failures,omitempty"`
	LastSeen   time.Time     `json:"last_seen"`
	RTT        time.Duration `json:"rtt"`
}

// RecordSnapshot 记录快照
type RecordSnapshot struct {
	Key       types.ValueID `json:"key"`
	Value     []byte        `json:"value"`
	Creator   types.NodeID  `json:"creator"`
	Signature []byte        `json:"signature,omitempty"`
	NumLocs   int           `json:"num_locs"`
	Created   time.Time     `json:"created"`
	Published time.Time     `json:"published"`
	ExpiresAt time.Time     `json:"expires_at"`
	Local     bool          `json:"local"`
}

// PersistenceStore 路由表与数据库的快照存储
//
// 保存是整体替换语义：SaveContacts 之后 LoadContacts 只返回最近一次保存的内容。
type PersistenceStore interface {
	SaveContacts(contacts []ContactSnapshot) error
	LoadContacts() ([]ContactSnapshot, error)

	SaveRecords(records []RecordSnapshot) error
	LoadRecords() ([]RecordSnapshot, error)

	// NextInstanceID 读取上次的实例号并加一保存，返回新值
	NextInstanceID() (uint8, error)

	Close() error
}
